// Package repository 定义数据访问接口
// 接口抽象使依赖注入和单元测试成为可能
package repository

import (
	"time"

	"github.com/ashwinyue/gemini-chat/internal/model"
)

// ConversationRepository 会话数据访问接口
// 接口定义使 Service 层可以轻松 mock 进行单元测试
type ConversationRepository interface {
	// 会话操作
	CreateConversation(conv *model.Conversation) error
	GetConversationByID(id string) (*model.Conversation, error)
	ListConversations() ([]*model.Conversation, error)
	SearchByTitlePrefix(prefix string, limit int) ([]*model.Conversation, error)
	UpdateConversation(conv *model.Conversation) error
	TouchConversation(id string, at time.Time) error
	DeleteConversation(id string) error

	// 消息操作
	CreateMessage(msg *model.Message) error
	GetMessageByID(id string) (*model.Message, error)
	GetMessageByStreamID(streamID string) (*model.Message, error)
	UpdateMessage(msg *model.Message) error
	ListMessages(conversationID string) ([]*model.Message, error)
}

// 确保 gorm 实现满足接口
var _ ConversationRepository = (*conversationRepositoryImpl)(nil)
