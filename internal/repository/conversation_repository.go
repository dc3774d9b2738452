package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ashwinyue/gemini-chat/internal/errs"
	"github.com/ashwinyue/gemini-chat/internal/model"
)

// conversationRepositoryImpl 会话数据访问
type conversationRepositoryImpl struct {
	db *gorm.DB
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepositoryImpl{db: db}
}

// CreateConversation 创建会话
func (r *conversationRepositoryImpl) CreateConversation(conv *model.Conversation) error {
	return r.db.Create(conv).Error
}

// GetConversationByID 获取会话
func (r *conversationRepositoryImpl) GetConversationByID(id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, "conversation %s not found", id)
		}
		return nil, err
	}
	return &conv, nil
}

// ListConversations 按最近活动倒序列出所有会话
func (r *conversationRepositoryImpl) ListConversations() ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := r.db.Order("updated_at DESC").Find(&convs).Error
	return convs, err
}

// SearchByTitlePrefix 按归一化标题前缀搜索，结果按归一化标题升序
func (r *conversationRepositoryImpl) SearchByTitlePrefix(prefix string, limit int) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := r.db.
		Where("title_normalized LIKE ?", escapeLike(prefix)+"%").
		Order("title_normalized ASC").
		Limit(limit).
		Find(&convs).Error
	return convs, err
}

// UpdateConversation 更新会话
func (r *conversationRepositoryImpl) UpdateConversation(conv *model.Conversation) error {
	return r.db.Save(conv).Error
}

// TouchConversation 刷新会话活动时间，使最近排序反映消息活动
func (r *conversationRepositoryImpl) TouchConversation(id string, at time.Time) error {
	return r.db.Model(&model.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at).Error
}

// DeleteConversation 删除会话，先级联删除其全部消息
func (r *conversationRepositoryImpl) DeleteConversation(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Message{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Conversation{}, "id = ?", id).Error
	})
}

// CreateMessage 创建消息
func (r *conversationRepositoryImpl) CreateMessage(msg *model.Message) error {
	return r.db.Create(msg).Error
}

// GetMessageByID 获取单条消息
func (r *conversationRepositoryImpl) GetMessageByID(id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, "message %s not found", id)
		}
		return nil, err
	}
	return &msg, nil
}

// GetMessageByStreamID 按流 ID 获取消息，一个流 ID 只对应一条助手消息
func (r *conversationRepositoryImpl) GetMessageByStreamID(streamID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.Where("stream_id = ?", streamID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, "message for stream %s not found", streamID)
		}
		return nil, err
	}
	return &msg, nil
}

// UpdateMessage 更新消息
func (r *conversationRepositoryImpl) UpdateMessage(msg *model.Message) error {
	return r.db.Save(msg).Error
}

// ListMessages 按创建时间正序获取会话消息
func (r *conversationRepositoryImpl) ListMessages(conversationID string) ([]*model.Message, error) {
	var messages []*model.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// escapeLike 转义 LIKE 通配符，前缀按字面量匹配
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
