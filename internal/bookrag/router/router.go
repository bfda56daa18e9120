// Package router provides book chat service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/internal/bookrag/handler"
)

// Register registers the chat service routes on the gin engine.
func Register(engine *gin.Engine, chatHandler *handler.ChatHandler) {
	engine.GET("/healthz", chatHandler.Healthz)
	engine.GET("/metrics", chatHandler.Metrics)

	v1 := engine.Group("/v1")
	{
		book := v1.Group("/book")
		{
			book.POST("/load", chatHandler.LoadBook)
		}

		v1.POST("/chat", chatHandler.Chat)
		v1.GET("/chat/history/:session_id", chatHandler.History)
		v1.GET("/stats", chatHandler.Stats)
	}

	logger.Info("HTTP routes registered")
}
