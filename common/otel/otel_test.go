package otel

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/relay/core/config"
)

var _ = Describe("parseHeaders", func() {
	It("splits pairs and decodes values", func() {
		Expect(parseHeaders("Authorization=Basic%20abc%3D, x-team = lumen")).To(Equal(map[string]string{
			"Authorization": "Basic abc=",
			"x-team":        "lumen",
		}))
	})

	It("skips pairs without a value", func() {
		Expect(parseHeaders("broken,k=v")).To(Equal(map[string]string{"k": "v"}))
		Expect(parseHeaders("")).To(BeEmpty())
	})
})

var _ = Describe("sampler", func() {
	It("samples everything outside (0, 1)", func() {
		Expect(sampler(0).Description()).To(ContainSubstring("AlwaysOnSampler"))
		Expect(sampler(1).Description()).To(ContainSubstring("AlwaysOnSampler"))
	})

	It("uses the ratio for new root traces", func() {
		Expect(sampler(0.25).Description()).To(ContainSubstring("TraceIDRatioBased{0.25}"))
	})
})

var _ = Describe("Setup", func() {
	It("is a no-op without an endpoint", func() {
		telemetry, err := Setup(context.Background(), config.OTelConfig{})

		Expect(err).NotTo(HaveOccurred())
		Expect(telemetry).To(BeNil())
	})
})
