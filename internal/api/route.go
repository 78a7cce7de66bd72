package api

import (
	"Storefront/internal/api/middleware"
	"Storefront/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		apiGroup.GET("/status", group.IMHandler.Status)
		apiGroup.GET("/ws", group.WsHandler.Connect)
		apiGroup.POST("/refresh", group.IMHandler.Refresh)

		convGroup := apiGroup.Group("/conversations")
		{
			convGroup.GET("", group.IMHandler.ListConversations)
			convGroup.POST("", group.IMHandler.StartConversation)
			convGroup.GET("/:id", group.IMHandler.GetConversation)
			convGroup.GET("/:id/history", group.IMHandler.LoadHistory)
			convGroup.POST("/:id/open", group.IMHandler.OpenConversation)
			convGroup.POST("/:id/close", group.IMHandler.CloseConversation)
			convGroup.POST("/:id/messages", group.IMHandler.SendMessage)
		}

		sendGroup := apiGroup.Group("/sends")
		{
			sendGroup.GET("", group.IMHandler.PendingSends)
			sendGroup.POST("/:local_id/retry", group.IMHandler.RetrySend)
			sendGroup.DELETE("/:local_id", group.IMHandler.DiscardSend)
		}
	}

	return r
}
