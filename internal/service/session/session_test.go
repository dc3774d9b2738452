package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ashwinyue/gemini-chat/internal/config"
	"github.com/ashwinyue/gemini-chat/internal/errs"
	"github.com/ashwinyue/gemini-chat/internal/model"
	"github.com/ashwinyue/gemini-chat/internal/repository"
	"github.com/ashwinyue/gemini-chat/internal/service/conversation"
	"github.com/ashwinyue/gemini-chat/internal/service/event"
	"github.com/ashwinyue/gemini-chat/internal/service/prompt"
	"github.com/ashwinyue/gemini-chat/internal/service/relay"
)

// memRepo 内存仓库，覆盖控制器全链路用到的方法
type memRepo struct {
	repository.ConversationRepository
	mu    sync.Mutex
	convs map[string]*model.Conversation
	msgs  []*model.Message
}

func newMemRepo() *memRepo {
	return &memRepo{convs: make(map[string]*model.Conversation)}
}

func (m *memRepo) CreateConversation(conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	m.convs[conv.ID] = conv
	return nil
}

func (m *memRepo) GetConversationByID(id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.convs[id]; ok {
		return conv, nil
	}
	return nil, errs.Newf(errs.KindNotFound, "conversation %s not found", id)
}

func (m *memRepo) UpdateConversation(conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conv.ID]; !ok {
		return errs.Newf(errs.KindNotFound, "conversation %s not found", conv.ID)
	}
	conv.UpdatedAt = time.Now()
	m.convs[conv.ID] = conv
	return nil
}

func (m *memRepo) TouchConversation(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.convs[id]; ok {
		conv.UpdatedAt = at
	}
	return nil
}

func (m *memRepo) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, id)
	kept := m.msgs[:0]
	for _, msg := range m.msgs {
		if msg.ConversationID != id {
			kept = append(kept, msg)
		}
	}
	m.msgs = kept
	return nil
}

func (m *memRepo) CreateMessage(msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.CreatedAt = time.Now()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memRepo) GetMessageByID(id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, errs.Newf(errs.KindNotFound, "message %s not found", id)
}

func (m *memRepo) UpdateMessage(msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.msgs {
		if existing.ID == msg.ID {
			m.msgs[i] = msg
			return nil
		}
	}
	return errs.Newf(errs.KindNotFound, "message %s not found", msg.ID)
}

func (m *memRepo) ListMessages(conversationID string) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*model.Message, 0)
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			copied := *msg
			result = append(result, &copied)
		}
	}
	return result, nil
}

// fakeChatModel 按固定块序列回放
// hang 为 true 时发完块后挂起不关闭流
type fakeChatModel struct {
	chunks []string
	hang   bool
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return schema.AssistantMessage(strings.Join(f.chunks, ""), nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		for _, c := range f.chunks {
			if closed := sw.Send(schema.AssistantMessage(c, nil), nil); closed {
				return
			}
		}
		if !f.hang {
			sw.Close()
		}
	}()
	return sr, nil
}

func (f *fakeChatModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func newTestEnv(t *testing.T, cm *fakeChatModel, apiKey string) (*Controller, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	bus := event.NewBus()
	store := conversation.NewService(repo, bus)
	builder := prompt.NewBuilder(repo, config.AIConfig{
		APIKey:       apiKey,
		FlashModel:   "gemini-flash-latest",
		DefaultModel: "gemini-2.5-flash",
	})
	r := relay.New(store, cm, nil, 1)
	t.Cleanup(r.Close)

	c := NewController(store, builder, r, bus)
	t.Cleanup(c.Close)
	return c, repo
}

func newTestController(t *testing.T, chunks []string) *Controller {
	t.Helper()
	c, _ := newTestEnv(t, &fakeChatModel{chunks: chunks}, "test-key")
	return c
}

func TestSendAndConsumeFullCycle(t *testing.T) {
	c := newTestController(t, []string{"Hi", " there"})
	ctx := context.Background()

	convID, err := c.EnsureConversation(ctx, "")
	if err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if convID == "" || c.ConversationID() != convID {
		t.Fatal("active conversation not recorded")
	}

	res, err := c.SendMessage(ctx, "Hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.StreamID == "" || res.UserMessageID == "" || res.AssistantMessageID == "" {
		t.Fatalf("incomplete send result: %+v", res)
	}
	if c.State() != StateStreaming {
		t.Errorf("State = %s, want streaming", c.State())
	}

	if err := c.ConsumeStream(ctx, res.StreamID); err != nil {
		t.Fatalf("ConsumeStream failed: %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("State after reconcile = %s, want idle", c.State())
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "Hello" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "Hi there" || msgs[1].Status != model.StatusFinal {
		t.Errorf("assistant message = %+v", msgs[1])
	}
}

func TestSendMessageEmptyText(t *testing.T) {
	c := newTestController(t, nil)

	if _, err := c.SendMessage(context.Background(), "   "); !errs.IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	// 校验在任何状态迁移之前
	if c.State() != StateIdle {
		t.Errorf("State = %s, want idle", c.State())
	}
}

func TestSendMessageWithoutConversation(t *testing.T) {
	c := newTestController(t, nil)

	if _, err := c.SendMessage(context.Background(), "Hello"); !errs.IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if c.State() != StateError {
		t.Errorf("State = %s, want error", c.State())
	}

	c.Reset()
	if c.State() != StateIdle || c.Err() != nil {
		t.Error("Reset did not recover from error state")
	}
}

func TestEnsureConversationIdempotent(t *testing.T) {
	c := newTestController(t, nil)
	ctx := context.Background()

	first, err := c.EnsureConversation(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.EnsureConversation(ctx, string(model.VariantPro))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("second ensure created a new conversation: %s != %s", first, second)
	}
}

func TestDeleteActiveConversationClearsState(t *testing.T) {
	c := newTestController(t, []string{"x"})
	ctx := context.Background()

	convID, err := c.EnsureConversation(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.SendMessage(ctx, "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ConsumeStream(ctx, res.StreamID); err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteConversation(ctx, convID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if c.ConversationID() != "" {
		t.Error("active conversation reference survived delete")
	}
	if len(c.Messages()) != 0 {
		t.Error("message view survived delete")
	}
}

func TestSelectConversationLoadsMessages(t *testing.T) {
	c := newTestController(t, []string{"answer"})
	ctx := context.Background()

	convID, err := c.EnsureConversation(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.SendMessage(ctx, "question")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ConsumeStream(ctx, res.StreamID); err != nil {
		t.Fatal(err)
	}

	c.NewChat()
	if c.ConversationID() != "" || len(c.Messages()) != 0 {
		t.Fatal("NewChat did not clear state")
	}

	if err := c.SelectConversation(ctx, convID); err != nil {
		t.Fatalf("SelectConversation failed: %v", err)
	}
	if len(c.Messages()) != 2 {
		t.Errorf("got %d messages after select, want 2", len(c.Messages()))
	}
}

func TestMergeView(t *testing.T) {
	transient := newTransient("m2", "s1", "c1")
	transient.Apply("partial")

	durable := []*model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "Hello"},
	}

	merged := mergeView(durable, transient)
	if len(merged) != 2 {
		t.Fatalf("got %d messages, want 2", len(merged))
	}
	if merged[1].ID != "m2" || merged[1].Content != "partial" || merged[1].Status != model.StatusStreaming {
		t.Errorf("transient view = %+v", merged[1])
	}

	// 持久层只有流式占位时，暂存视图顶替它携带实时文本
	durable = append(durable, &model.Message{ID: "m2", Role: model.RoleAssistant, Content: "", Status: model.StatusStreaming, StreamID: "s1"})
	merged = mergeView(durable, transient)
	if len(merged) != 2 {
		t.Fatalf("got %d messages, want 2", len(merged))
	}
	if merged[1].Content != "partial" {
		t.Errorf("streaming placeholder must yield to transient, got %q", merged[1].Content)
	}

	// 同一条消息已到终态后，以持久条目为准，不再双显
	durable[1] = &model.Message{ID: "m2", Role: model.RoleAssistant, Content: "full", Status: model.StatusFinal}
	merged = mergeView(durable, transient)
	if len(merged) != 2 {
		t.Fatalf("duplicate render: got %d messages, want 2", len(merged))
	}
	if merged[1].Content != "full" {
		t.Errorf("durable version must win, got %q", merged[1].Content)
	}
}

func TestMessagesShowLiveStreamingText(t *testing.T) {
	c, _ := newTestEnv(t, &fakeChatModel{chunks: []string{"Par"}, hang: true}, "test-key")
	ctx := context.Background()

	if _, err := c.EnsureConversation(ctx, ""); err != nil {
		t.Fatal(err)
	}
	res, err := c.SendMessage(ctx, "Hello")
	if err != nil {
		t.Fatal(err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.ConsumeStream(subCtx, res.StreamID)
	}()

	// 流尚未终止，合并视图里的助手条目要能看到已到达的文本
	var got string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range c.Messages() {
			if msg.ID == res.AssistantMessageID {
				got = msg.Content
			}
		}
		if got == "Par" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got != "Par" {
		t.Fatalf("mid-stream assistant content = %q, want %q", got, "Par")
	}

	cancel()
	<-done
}

func TestSendMessageBuildFailureLeavesNoPlaceholder(t *testing.T) {
	// API key 未配置，上下文组装失败
	c, repo := newTestEnv(t, &fakeChatModel{}, "")
	ctx := context.Background()

	convID, err := c.EnsureConversation(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.SendMessage(ctx, "Hello")
	if errs.KindOf(err) != errs.KindConfiguration {
		t.Fatalf("expected Configuration error, got %v", err)
	}

	// 失败要发生在开流之前，不留悬空的流式占位
	msgs, _ := repo.ListMessages(convID)
	for _, msg := range msgs {
		if msg.Status == model.StatusStreaming {
			t.Errorf("dangling streaming placeholder: %+v", msg)
		}
	}
	if len(msgs) != 1 || msgs[0].Role != model.RoleUser {
		t.Errorf("store should hold exactly the user message, got %d messages", len(msgs))
	}
}
