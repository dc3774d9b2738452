// Package event 提供存储变更通知
// Store 在每次写入后按集合发布事件，订阅方据此重读受影响的查询，
// 不依赖任何响应式框架
package event

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Collection 发生变更的集合
type Collection string

const (
	// CollectionConversations 会话集合
	CollectionConversations Collection = "conversations"
	// CollectionMessages 消息集合
	CollectionMessages Collection = "messages"
)

// ChangeType 变更类型
type ChangeType string

const (
	// ChangeCreated 新增
	ChangeCreated ChangeType = "created"
	// ChangeUpdated 更新
	ChangeUpdated ChangeType = "updated"
	// ChangeDeleted 删除
	ChangeDeleted ChangeType = "deleted"
)

// Change 一次存储变更
type Change struct {
	Collection     Collection `json:"collection"`
	Type           ChangeType `json:"type"`
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Handler 变更处理器接口
type Handler interface {
	Handle(ctx context.Context, chg *Change) error
}

// HandlerFunc 函数类型的变更处理器
type HandlerFunc func(ctx context.Context, chg *Change) error

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, chg *Change) error {
	return f(ctx, chg)
}

// subscription 一次订阅，取消订阅按其指针定位
type subscription struct {
	handler Handler
}

// Bus 变更通知总线
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Collection][]*subscription
}

// NewBus 创建变更通知总线
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Collection][]*subscription),
	}
}

// Subscribe 订阅某个集合的变更，返回取消订阅函数
func (b *Bus) Subscribe(collection Collection, handler Handler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	sub := &subscription{handler: handler}

	b.mu.Lock()
	b.subscribers[collection] = append(b.subscribers[collection], sub)
	b.mu.Unlock()

	return func() { b.unsubscribe(collection, sub) }, nil
}

func (b *Bus) unsubscribe(collection Collection, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[collection]
	for i, s := range subs {
		if s == sub {
			b.subscribers[collection] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish 发布变更，同步通知订阅者
// 处理器错误相互独立，单个订阅者失败不影响其余订阅者
func (b *Bus) Publish(ctx context.Context, chg *Change) {
	if chg.Timestamp.IsZero() {
		chg.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := append([]*subscription{}, b.subscribers[chg.Collection]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		_ = sub.handler.Handle(ctx, chg)
	}
}
