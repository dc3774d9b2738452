package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/gemini-chat/internal/service"
	"github.com/ashwinyue/gemini-chat/internal/service/conversation"
)

// ConversationHandler 会话处理器
type ConversationHandler struct {
	svc *service.Services
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(svc *service.Services) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// CreateConversation 创建会话
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req conversation.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	conv, err := h.svc.Conversation.Create(c.Request.Context(), &req)
	if err != nil {
		errorResponse(c, err)
		return
	}

	created(c, conv)
}

// GetConversation 获取会话
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	id := c.Param("id")

	conv, err := h.svc.Conversation.Get(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, conv)
}

// ListConversations 按最近活动倒序列出会话
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	convs, err := h.svc.Conversation.ListAll(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, gin.H{"items": convs, "total": len(convs)})
}

// SearchConversations 按归一化标题前缀搜索会话
func (h *ConversationHandler) SearchConversations(c *gin.Context) {
	query := c.Query("q")
	limit := getLimit(c, conversation.DefaultSearchLimit)

	convs, err := h.svc.Conversation.SearchByTitlePrefix(c.Request.Context(), query, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, gin.H{"items": convs, "total": len(convs)})
}

// RenameRequest 重命名请求
type RenameRequest struct {
	Title string `json:"title" binding:"required"`
}

// RenameConversation 重命名会话
func (h *ConversationHandler) RenameConversation(c *gin.Context) {
	id := c.Param("id")

	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	conv, err := h.svc.Conversation.Rename(c.Request.Context(), id, req.Title)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, conv)
}

// SetModelRequest 切换模型请求
type SetModelRequest struct {
	Model string `json:"model" binding:"required"`
}

// SetModel 切换会话模型档位
func (h *ConversationHandler) SetModel(c *gin.Context) {
	id := c.Param("id")

	var req SetModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	conv, err := h.svc.Conversation.SetModel(c.Request.Context(), id, req.Model)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, conv)
}

// DeleteConversation 删除会话及其消息
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	id := c.Param("id")

	if err := h.svc.Conversation.Delete(c.Request.Context(), id); err != nil {
		errorResponse(c, err)
		return
	}

	c.Status(204)
}

// GetMessages 获取会话消息
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	id := c.Param("id")

	messages, err := h.svc.Conversation.ListMessages(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, gin.H{"messages": messages})
}
