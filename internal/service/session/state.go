package session

import (
	"strings"
	"sync"

	"github.com/ashwinyue/gemini-chat/internal/model"
)

// State 控制器状态
type State string

const (
	// StateIdle 空闲
	StateIdle State = "idle"
	// StateEnsuring 确保会话存在
	StateEnsuring State = "ensuring-conversation"
	// StateSending 提交用户消息
	StateSending State = "sending"
	// StateStreaming 消费流式块
	StateStreaming State = "streaming"
	// StateReconciling 流结束后与持久层对账
	StateReconciling State = "reconciling"
	// StateError 任意一步失败后的终态，Reset 后可恢复
	StateError State = "error"
)

// TransientMessage 流式期间的本地暂存视图
// 逐块累积在内存里，避免每个块一次持久化写入
type TransientMessage struct {
	MessageID      string
	StreamID       string
	ConversationID string

	mu      sync.Mutex
	content strings.Builder
}

// newTransient 创建暂存视图
func newTransient(messageID, streamID, conversationID string) *TransientMessage {
	return &TransientMessage{
		MessageID:      messageID,
		StreamID:       streamID,
		ConversationID: conversationID,
	}
}

// Apply 追加一个块
func (t *TransientMessage) Apply(chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.content.WriteString(chunk)
}

// Content 当前累积文本
func (t *TransientMessage) Content() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.content.String()
}

// asMessage 以消息形态呈现暂存视图
func (t *TransientMessage) asMessage() *model.Message {
	return &model.Message{
		ID:             t.MessageID,
		ConversationID: t.ConversationID,
		Role:           model.RoleAssistant,
		Content:        t.Content(),
		Status:         model.StatusStreaming,
		StreamID:       t.StreamID,
	}
}

// mergeView 合并持久列表与暂存视图
// 流式进行中持久层只有空占位，实时文本在暂存视图里：
// 同 ID 的持久条目仍处于 streaming 状态时由暂存视图顶替，
// 已到终态则以持久条目为准，杜绝同一条消息双显
func mergeView(durable []*model.Message, transient *TransientMessage) []*model.Message {
	if transient == nil {
		return append([]*model.Message{}, durable...)
	}

	merged := make([]*model.Message, 0, len(durable)+1)
	matched := false
	for _, msg := range durable {
		if msg.ID == transient.MessageID {
			matched = true
			if msg.Status == model.StatusStreaming {
				merged = append(merged, transient.asMessage())
				continue
			}
		}
		merged = append(merged, msg)
	}
	if !matched {
		merged = append(merged, transient.asMessage())
	}
	return merged
}
