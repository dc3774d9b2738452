package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/gemini-chat/internal/handler"
	"github.com/ashwinyue/gemini-chat/internal/middleware"
)

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.CORSMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// Conversation 会话
		conversations := v1.Group("/conversations")
		{
			conversations.POST("", h.Conversation.CreateConversation)
			conversations.GET("", h.Conversation.ListConversations)
			conversations.GET("/search", h.Conversation.SearchConversations)
			conversations.GET("/:id", h.Conversation.GetConversation)
			conversations.PUT("/:id", h.Conversation.RenameConversation)
			conversations.PUT("/:id/model", h.Conversation.SetModel)
			conversations.DELETE("/:id", h.Conversation.DeleteConversation)
			conversations.GET("/:id/messages", h.Conversation.GetMessages)
			conversations.POST("/:id/messages", h.Stream.SubmitMessage)
		}

		// Stream 流式
		streams := v1.Group("/streams")
		{
			streams.GET("/:id", h.Stream.SubscribeStream)
		}

		// 无会话直连流式端点
		v1.POST("/chat/stream", h.Stream.ChatStream)
	}

	return r
}
