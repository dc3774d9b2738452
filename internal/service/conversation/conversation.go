// Package conversation 提供会话与消息的存储服务
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashwinyue/gemini-chat/internal/errs"
	"github.com/ashwinyue/gemini-chat/internal/model"
	"github.com/ashwinyue/gemini-chat/internal/repository"
	"github.com/ashwinyue/gemini-chat/internal/service/event"
)

const (
	// DefaultTitle 未提供标题时的默认值
	DefaultTitle = "New Conversation"
	// DefaultSearchLimit 前缀搜索默认返回条数
	DefaultSearchLimit = 50
)

// Service 会话存储服务
type Service struct {
	repo repository.ConversationRepository
	bus  *event.Bus
}

// NewService 创建会话存储服务
func NewService(repo repository.ConversationRepository, bus *event.Bus) *Service {
	return &Service{repo: repo, bus: bus}
}

// CreateRequest 创建会话请求
type CreateRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

// Create 创建会话
// 标题与模型均可缺省，缺省值与校验在此统一处理
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*model.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultTitle
	}

	variant := model.ModelVariant(req.Model)
	if req.Model == "" {
		variant = model.VariantFlash
	}
	if !variant.Valid() {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown model variant %q", req.Model)
	}

	conv := &model.Conversation{
		ID:    uuid.New().String(),
		Model: string(variant),
	}
	conv.SetTitle(title)

	if err := s.repo.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.publish(ctx, event.CollectionConversations, event.ChangeCreated, conv.ID, conv.ID)
	return conv, nil
}

// Get 获取会话
func (s *Service) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return s.repo.GetConversationByID(id)
}

// ListAll 按最近活动倒序列出所有会话
func (s *Service) ListAll(ctx context.Context) ([]*model.Conversation, error) {
	return s.repo.ListConversations()
}

// SearchByTitlePrefix 按归一化标题前缀搜索
// 查询词与存储键走同一套归一化，保证前缀匹配不受大小写和空白影响；
// 空前缀是所有标题的前缀，匹配全部会话
func (s *Service) SearchByTitlePrefix(ctx context.Context, query string, limit int) ([]*model.Conversation, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return s.repo.SearchByTitlePrefix(model.NormalizeTitle(query), limit)
}

// Rename 重命名会话，归一化标题随之重算
func (s *Service) Rename(ctx context.Context, id, newTitle string) (*model.Conversation, error) {
	if strings.TrimSpace(newTitle) == "" {
		return nil, errs.New(errs.KindInvalidArgument, "title cannot be empty")
	}

	conv, err := s.repo.GetConversationByID(id)
	if err != nil {
		return nil, err
	}

	conv.SetTitle(newTitle)
	if err := s.repo.UpdateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to rename conversation: %w", err)
	}

	s.publish(ctx, event.CollectionConversations, event.ChangeUpdated, conv.ID, conv.ID)
	return conv, nil
}

// SetModel 切换会话模型档位
func (s *Service) SetModel(ctx context.Context, id, variant string) (*model.Conversation, error) {
	v := model.ModelVariant(variant)
	if !v.Valid() {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown model variant %q", variant)
	}

	conv, err := s.repo.GetConversationByID(id)
	if err != nil {
		return nil, err
	}

	conv.Model = string(v)
	if err := s.repo.UpdateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to set model: %w", err)
	}

	s.publish(ctx, event.CollectionConversations, event.ChangeUpdated, conv.ID, conv.ID)
	return conv, nil
}

// Delete 删除会话及其全部消息
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.GetConversationByID(id); err != nil {
		return err
	}
	if err := s.repo.DeleteConversation(id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.publish(ctx, event.CollectionConversations, event.ChangeDeleted, id, id)
	return nil
}

// AppendMessage 追加一条完整消息并刷新会话活动时间
// user 消息只能经由这里创建，天然不会带流式状态
func (s *Service) AppendMessage(ctx context.Context, conversationID, role, content string) (*model.Message, error) {
	if role != model.RoleUser && role != model.RoleAssistant {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown role %q", role)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.New(errs.KindInvalidArgument, "message content cannot be empty")
	}

	if _, err := s.repo.GetConversationByID(conversationID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Status:         model.StatusFinal,
	}

	if err := s.repo.CreateMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if err := s.repo.TouchConversation(conversationID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	s.publish(ctx, event.CollectionMessages, event.ChangeCreated, msg.ID, conversationID)
	return msg, nil
}

// AppendStreamingPlaceholder 创建流式生成占位的助手消息
// 空内容在这里是合法的，内容随流式完成后由 FinalizeMessage 落盘
func (s *Service) AppendStreamingPlaceholder(ctx context.Context, conversationID, streamID string) (*model.Message, error) {
	if streamID == "" {
		return nil, errs.New(errs.KindInvalidArgument, "stream id cannot be empty")
	}

	if _, err := s.repo.GetConversationByID(conversationID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        "",
		Status:         model.StatusStreaming,
		StreamID:       streamID,
	}

	if err := s.repo.CreateMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to create placeholder: %w", err)
	}

	s.publish(ctx, event.CollectionMessages, event.ChangeCreated, msg.ID, conversationID)
	return msg, nil
}

// FinalizeMessage 将流式消息迁移到终态
// 两次写入（消息终态、会话活动时间）各自原子，不组成单一事务
func (s *Service) FinalizeMessage(ctx context.Context, messageID, content, status string) (*model.Message, error) {
	if status != model.StatusFinal && status != model.StatusAborted {
		return nil, errs.Newf(errs.KindInvalidArgument, "invalid terminal status %q", status)
	}

	msg, err := s.repo.GetMessageByID(messageID)
	if err != nil {
		return nil, err
	}

	msg.Content = content
	msg.Status = status
	if err := s.repo.UpdateMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}
	if err := s.repo.TouchConversation(msg.ConversationID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	s.publish(ctx, event.CollectionMessages, event.ChangeUpdated, msg.ID, msg.ConversationID)
	return msg, nil
}

// ListMessages 按创建时间正序获取会话消息
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	if _, err := s.repo.GetConversationByID(conversationID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(conversationID)
}

// publish 发布存储变更通知
func (s *Service) publish(ctx context.Context, col event.Collection, typ event.ChangeType, id, conversationID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, &event.Change{
		Collection:     col,
		Type:           typ,
		ID:             id,
		ConversationID: conversationID,
	})
}
