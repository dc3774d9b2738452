package model

import (
	"strings"
	"time"
)

// ModelVariant 模型档位（封闭枚举）
type ModelVariant string

const (
	// VariantPro Gemini Pro 档位
	VariantPro ModelVariant = "Pro"
	// VariantFlash Gemini Flash 档位（默认）
	VariantFlash ModelVariant = "Flash"
	// VariantLite Gemini Flash Lite 档位
	VariantLite ModelVariant = "Lite"
)

// Valid 校验模型档位是否在枚举内
func (v ModelVariant) Valid() bool {
	switch v {
	case VariantPro, VariantFlash, VariantLite:
		return true
	}
	return false
}

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 消息状态
const (
	// StatusStreaming 正在流式生成
	StatusStreaming = "streaming"
	// StatusFinal 正常完成
	StatusFinal = "final"
	// StatusAborted 生成中断，content 保留已到达的部分文本
	StatusAborted = "aborted"
)

// Conversation 会话
type Conversation struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Title           string    `gorm:"size:255" json:"title"`
	TitleNormalized string    `gorm:"index;size:255" json:"title_normalized"`
	Model           string    `gorm:"size:20;default:Flash" json:"model"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"index;autoUpdateTime" json:"updated_at"`
	Messages        []Message `gorm:"foreignKey:ConversationID" json:"-"`
}

// Message 会话消息
type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string    `gorm:"index:idx_conversation_created,priority:1;size:36" json:"conversation_id"`
	Role           string    `gorm:"size:20" json:"role"` // user, assistant
	Content        string    `gorm:"type:text" json:"content"`
	Status         string    `gorm:"size:20;default:final" json:"status"`
	StreamID       string    `gorm:"index;size:36" json:"stream_id,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index:idx_conversation_created,priority:2" json:"created_at"`
}

// TableName 指定表名
func (Conversation) TableName() string {
	return "conversations"
}

func (Message) TableName() string {
	return "messages"
}

// SetTitle 写入标题并重算归一化标题
// title_normalized 只能经由这里更新，保证两者不脱节
func (c *Conversation) SetTitle(title string) {
	c.Title = strings.TrimSpace(title)
	c.TitleNormalized = NormalizeTitle(c.Title)
}

// NormalizeTitle 归一化标题：小写、压缩空白
// 用作前缀搜索键，幂等
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
