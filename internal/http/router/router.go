package router

import (
	"github.com/gin-gonic/gin"

	"lumen.app/relay/internal/http/handler"
)

func SetupRoutes(router *gin.Engine, svc handler.ChatService, newTurnID func() string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	chatHandler := handler.NewChatHandler(svc, newTurnID)

	v1 := router.Group("/api/v1")
	{
		ChatRouter(v1.Group("/chat"), chatHandler)
		v1.GET("/models", chatHandler.Models)
	}
}
