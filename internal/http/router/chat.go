package router

import (
	"github.com/gin-gonic/gin"

	"lumen.app/relay/internal/http/handler"
)

func ChatRouter(rg *gin.RouterGroup, h *handler.ChatHandler) {
	rg.POST("", h.Chat)
	rg.POST("/:turn_id/stop", h.Stop)
}
