package storage_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/relay/internal/citation"
	"lumen.app/relay/internal/storage"
)

var _ citation.Presigner = (*storage.PresignClient)(nil)

var _ = Describe("PresignClient", func() {
	var (
		ctx     context.Context
		server  *httptest.Server
		handler http.HandlerFunc
		calls   atomic.Int32
		client  *storage.PresignClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		calls.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			handler(w, r)
		}))
		client = storage.NewPresignClient(server.URL+"/", "presign-key", time.Second)
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the presigned url", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.URL.Path).To(Equal("/presign"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer presign-key"))
			body, _ := io.ReadAll(r.Body)
			Expect(string(body)).To(MatchJSON(`{"s3_path":"courses/cs101/lecture.pdf","project_name":"cs101"}`))
			_, _ = io.WriteString(w, `{"url":"https://bucket.example.com/lecture.pdf?sig=abc"}`)
		}

		url, err := client.Presign(ctx, "courses/cs101/lecture.pdf", "cs101")

		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal("https://bucket.example.com/lecture.pdf?sig=abc"))
	})

	DescribeTable("treats unknown objects as no link",
		func(status int, body string) {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = io.WriteString(w, body)
			}

			url, err := client.Presign(ctx, "missing.pdf", "cs101")

			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(BeEmpty())
		},
		Entry("404", http.StatusNotFound, `{"detail":"not found"}`),
		Entry("null url", http.StatusOK, `{"url":null}`),
	)

	It("retries transient failures", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			if calls.Load() == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, `{"url":"https://x/a.pdf"}`)
		}

		url, err := client.Presign(ctx, "a.pdf", "cs101")

		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal("https://x/a.pdf"))
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("fails on client errors", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, "denied")
		}

		_, err := client.Presign(ctx, "a.pdf", "cs101")
		Expect(err).To(MatchError(ContainSubstring("presign service returned 403: denied")))
		Expect(calls.Load()).To(Equal(int32(1)))
	})
})
