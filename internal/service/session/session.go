// Package session 实现会话编排控制器
// 状态机 idle → ensuring-conversation → sending → streaming → reconciling → idle，
// 任意一步失败进入 error
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/ashwinyue/gemini-chat/internal/errs"
	"github.com/ashwinyue/gemini-chat/internal/model"
	"github.com/ashwinyue/gemini-chat/internal/service/conversation"
	"github.com/ashwinyue/gemini-chat/internal/service/event"
	"github.com/ashwinyue/gemini-chat/internal/service/prompt"
	"github.com/ashwinyue/gemini-chat/internal/service/relay"
)

// Controller 会话控制器
// 每个客户端一个实例，串联存储、请求构造与流中继
type Controller struct {
	store   *conversation.Service
	builder *prompt.Builder
	relay   *relay.Relay
	bus     *event.Bus

	mu             sync.Mutex
	state          State
	conversationID string
	lastErr        error

	durable   []*model.Message
	transient *TransientMessage

	cancelSubs []func()
}

// NewController 创建会话控制器
// 订阅消息集合的变更通知，变更时重读受影响的查询
func NewController(store *conversation.Service, builder *prompt.Builder, r *relay.Relay, bus *event.Bus) *Controller {
	c := &Controller{
		store:   store,
		builder: builder,
		relay:   r,
		bus:     bus,
		state:   StateIdle,
	}

	if bus != nil {
		handler := event.HandlerFunc(func(ctx context.Context, chg *event.Change) error {
			c.onChange(ctx, chg)
			return nil
		})
		for _, col := range []event.Collection{event.CollectionMessages, event.CollectionConversations} {
			if cancel, err := bus.Subscribe(col, handler); err == nil {
				c.cancelSubs = append(c.cancelSubs, cancel)
			}
		}
	}
	return c
}

// Close 退订变更通知
func (c *Controller) Close() {
	for _, cancel := range c.cancelSubs {
		cancel()
	}
	c.cancelSubs = nil
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err 最近一次失败原因
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ConversationID 活动会话 ID，无活动会话时为空串
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Messages 渲染视图：持久列表与暂存视图按合并规则拼接
func (c *Controller) Messages() []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return mergeView(c.durable, c.transient)
}

// EnsureConversation 确保存在活动会话
// 已有活动会话时为空操作
func (c *Controller) EnsureConversation(ctx context.Context, modelVariant string) (string, error) {
	c.mu.Lock()
	if c.conversationID != "" {
		id := c.conversationID
		c.mu.Unlock()
		return id, nil
	}
	c.state = StateEnsuring
	c.mu.Unlock()

	conv, err := c.store.Create(ctx, &conversation.CreateRequest{Model: modelVariant})
	if err != nil {
		c.fail(err)
		return "", err
	}

	c.mu.Lock()
	c.conversationID = conv.ID
	c.durable = nil
	c.state = StateIdle
	c.mu.Unlock()
	return conv.ID, nil
}

// SendResult 提交结果，携带附着到流所需的全部标识
type SendResult struct {
	ConversationID     string `json:"conversation_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	StreamID           string `json:"stream_id"`
}

// SendMessage 提交用户消息并启动流式生成
// 上游生成在后台独立运行，不绑定本次调用的生命周期
func (c *Controller) SendMessage(ctx context.Context, text string) (*SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.New(errs.KindInvalidArgument, "message text cannot be empty")
	}

	c.mu.Lock()
	convID := c.conversationID
	c.state = StateSending
	c.mu.Unlock()

	if convID == "" {
		err := errs.New(errs.KindInvalidArgument, "no active conversation")
		c.fail(err)
		return nil, err
	}

	userMsg, err := c.store.AppendMessage(ctx, convID, model.RoleUser, text)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	// 先组装上下文再开流：组装失败时不产生悬空的流式占位
	req, err := c.builder.Build(ctx, convID, "")
	if err != nil {
		c.fail(err)
		return nil, err
	}

	st, err := c.relay.Open(ctx, convID)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	c.mu.Lock()
	c.transient = newTransient(st.MessageID, st.ID, convID)
	c.state = StateStreaming
	c.mu.Unlock()

	// 与订阅者解耦：所有读者断开也不取消上游生成
	go func() {
		_ = c.relay.Run(context.Background(), st.ID, req.Messages, req.UpstreamModel)
	}()

	return &SendResult{
		ConversationID:     convID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: st.MessageID,
		StreamID:           st.ID,
	}, nil
}

// ConsumeStream 消费流式块直到终止并完成对账
// 块只进暂存视图，不逐块写库；重连时以相同流 ID 再次调用即可
func (c *Controller) ConsumeStream(ctx context.Context, streamID string) error {
	ch, err := c.relay.Subscribe(ctx, streamID)
	if err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if c.transient == nil || c.transient.StreamID != streamID {
		if st, ok := c.relay.Get(streamID); ok {
			c.transient = newTransient(st.MessageID, st.ID, st.ConversationID)
		}
	}
	transient := c.transient
	c.state = StateStreaming
	c.mu.Unlock()

	for chunk := range ch {
		if transient != nil {
			transient.Apply(chunk)
		}
	}
	if err := ctx.Err(); err != nil {
		// 连接断开不算失败，流仍在中继侧继续
		return err
	}

	return c.reconcile(ctx)
}

// reconcile 流结束后重读持久列表并废弃暂存视图
func (c *Controller) reconcile(ctx context.Context) error {
	c.mu.Lock()
	convID := c.conversationID
	c.state = StateReconciling
	c.mu.Unlock()

	if convID != "" {
		if err := c.refresh(ctx, convID); err != nil {
			c.fail(err)
			return err
		}
	}

	c.mu.Lock()
	c.transient = nil
	c.state = StateIdle
	c.mu.Unlock()
	return nil
}

// SelectConversation 切换活动会话并加载其消息
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	if _, err := c.store.Get(ctx, id); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.conversationID = id
	c.transient = nil
	c.mu.Unlock()

	if err := c.refresh(ctx, id); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// DeleteConversation 删除会话，若为活动会话则一并清空本地状态
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if c.conversationID == id {
		c.conversationID = ""
		c.durable = nil
		c.transient = nil
	}
	c.mu.Unlock()
	return nil
}

// RenameConversation 重命名会话
func (c *Controller) RenameConversation(ctx context.Context, id, newTitle string) error {
	if _, err := c.store.Rename(ctx, id, newTitle); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// NewChat 清空活动会话引用
func (c *Controller) NewChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = ""
	c.durable = nil
	c.transient = nil
	c.state = StateIdle
}

// Reset 从 error 状态恢复
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
	c.state = StateIdle
}

// onChange 存储变更通知回调：重读受影响的查询
func (c *Controller) onChange(ctx context.Context, chg *event.Change) {
	c.mu.Lock()
	convID := c.conversationID
	c.mu.Unlock()

	if convID == "" || chg.ConversationID != convID {
		return
	}
	if chg.Collection == event.CollectionConversations && chg.Type == event.ChangeDeleted {
		c.mu.Lock()
		c.conversationID = ""
		c.durable = nil
		c.transient = nil
		c.mu.Unlock()
		return
	}
	_ = c.refresh(ctx, convID)
}

// refresh 重读持久消息列表
func (c *Controller) refresh(ctx context.Context, convID string) error {
	messages, err := c.store.ListMessages(ctx, convID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.durable = messages
	c.mu.Unlock()
	return nil
}

// fail 进入 error 状态
func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.state = StateError
	c.mu.Unlock()
}
