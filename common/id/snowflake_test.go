package id_test

import (
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/relay/common/id"
)

var _ = Describe("ID", func() {
	It("generates increasing ids", func() {
		Expect(id.Init(7)).To(Succeed())

		a, b := id.New(), id.New()

		Expect(b).To(BeNumerically(">", a))
	})

	It("renders ids as decimal strings", func() {
		s := id.NewString()

		n, err := strconv.ParseInt(s, 10, 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">", 0))
	})
})
