package handler

import "github.com/ashwinyue/gemini-chat/internal/service"

// Handlers 处理器集合
type Handlers struct {
	Conversation *ConversationHandler
	Stream       *StreamHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Conversation: NewConversationHandler(svc),
		Stream:       NewStreamHandler(svc),
	}
}
