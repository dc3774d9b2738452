package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/ashwinyue/gemini-chat/internal/model"
	"github.com/ashwinyue/gemini-chat/internal/service"
	"github.com/ashwinyue/gemini-chat/internal/service/prompt"
)

// StreamHandler 流式接口处理器
type StreamHandler struct {
	svc *service.Services
}

// NewStreamHandler 创建流式接口处理器
func NewStreamHandler(svc *service.Services) *StreamHandler {
	return &StreamHandler{svc: svc}
}

// SubmitRequest 提交消息请求
type SubmitRequest struct {
	Content string `json:"content" binding:"required"`
	// Model 可选的单次模型档位覆盖
	Model string `json:"model"`
}

// SubmitMessage 提交用户消息并启动流式生成
// 返回附着到流所需的标识，流本身经由订阅端点读取
func (h *StreamHandler) SubmitMessage(c *gin.Context) {
	conversationID := c.Param("id")

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()

	userMsg, err := h.svc.Conversation.AppendMessage(ctx, conversationID, model.RoleUser, req.Content)
	if err != nil {
		errorResponse(c, err)
		return
	}

	// 先组装上下文再开流：组装失败时不产生悬空的流式占位
	genReq, err := h.svc.Prompt.Build(ctx, conversationID, req.Model)
	if err != nil {
		errorResponse(c, err)
		return
	}

	st, err := h.svc.Relay.Open(ctx, conversationID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	// 生成与本次请求解耦，客户端断开不影响生成与落盘
	streamID := st.ID
	go func() {
		_ = h.svc.Relay.Run(context.Background(), streamID, genReq.Messages, genReq.UpstreamModel)
	}()

	created(c, gin.H{
		"conversation_id":      conversationID,
		"user_message_id":      userMsg.ID,
		"assistant_message_id": st.MessageID,
		"stream_id":            st.ID,
	})
}

// SubscribeStream 订阅流
// 先回放全部缓冲历史再实时跟读，同一流 ID 支持任意数量的并发订阅者，
// 断线后携带同一 ID 重新调用即可重连
func (h *StreamHandler) SubscribeStream(c *gin.Context) {
	streamID := c.Param("id")

	ch, err := h.svc.Relay.Subscribe(c.Request.Context(), streamID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	if st, ok := h.svc.Relay.Get(streamID); ok {
		c.Writer.Header().Set("X-Conversation-ID", st.ConversationID)
		c.Writer.Header().Set("X-Message-ID", st.MessageID)
	}
	c.Status(http.StatusOK)

	for chunk := range ch {
		select {
		case <-c.Request.Context().Done():
			return
		default:
			_, _ = c.Writer.WriteString(chunk)
			c.Writer.Flush()
		}
	}
}

// ChatStreamRequest 直连流式请求
type ChatStreamRequest struct {
	Messages []prompt.Entry `json:"messages" binding:"required"`
	Model    string         `json:"model"`
}

// ChatStream 无会话的直连流式生成
// 分块纯文本响应，每块一次写入，流正常关闭即结束；
// 首块之前失败则返回 500 纯文本
func (h *StreamHandler) ChatStream(c *gin.Context) {
	var req ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	genReq, err := h.svc.Prompt.BuildFromMessages(req.Messages, req.Model)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if h.svc.ChatModel == nil {
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	reader, err := h.svc.ChatModel.Stream(c.Request.Context(), genReq.Messages,
		einomodel.WithModel(genReq.UpstreamModel))
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	defer reader.Close()

	c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// 中途失败同样以正常关闭结束，已发出的文本不回收
			return
		}
		if msg != nil && msg.Content != "" {
			_, _ = c.Writer.WriteString(msg.Content)
			c.Writer.Flush()
		}

		select {
		case <-c.Request.Context().Done():
			return
		default:
		}
	}
}
