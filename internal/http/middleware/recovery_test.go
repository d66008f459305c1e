package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/relay/internal/http/middleware"
)

var _ = Describe("Recovery", func() {
	It("turns panics into a 500 error envelope", func() {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.Use(middleware.Recovery(), middleware.Logger())
		router.GET("/boom", func(*gin.Context) { panic("nil map") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(MatchJSON(`{"title":"Internal error","message":"internal server error"}`))
	})
})
