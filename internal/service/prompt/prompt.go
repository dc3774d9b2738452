// Package prompt 负责组装发往模型的上下文并解析目标模型
package prompt

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/ashwinyue/gemini-chat/internal/config"
	"github.com/ashwinyue/gemini-chat/internal/errs"
	"github.com/ashwinyue/gemini-chat/internal/model"
	"github.com/ashwinyue/gemini-chat/internal/repository"
)

// SystemPrompt 所有生成请求共用的系统提示词
const SystemPrompt = "You are a helpful AI Assistant Powered by Gemini"

// Builder 生成请求构造器
// 持有显式的 AI 配置对象，生命周期从进程启动到退出，便于测试替换
type Builder struct {
	repo repository.ConversationRepository
	ai   config.AIConfig
}

// NewBuilder 创建生成请求构造器
func NewBuilder(repo repository.ConversationRepository, ai config.AIConfig) *Builder {
	return &Builder{repo: repo, ai: ai}
}

// Request 一次生成请求的完整输入
type Request struct {
	// Messages 按创建顺序排列的上下文，系统提示词在最前
	Messages []*schema.Message
	// UpstreamModel 解析后的上游模型名
	UpstreamModel string
}

// Build 组装会话的生成上下文
// override 非空时覆盖会话存储的模型档位
// 仍在流式生成中的占位消息不进入上下文
func (b *Builder) Build(ctx context.Context, conversationID string, override string) (*Request, error) {
	if b.ai.APIKey == "" {
		return nil, errs.New(errs.KindConfiguration, "gemini api key is not configured")
	}

	conv, err := b.repo.GetConversationByID(conversationID)
	if err != nil {
		return nil, err
	}

	variant := model.ModelVariant(conv.Model)
	if override != "" {
		variant = model.ModelVariant(override)
		if !variant.Valid() {
			return nil, errs.Newf(errs.KindInvalidArgument, "unknown model variant %q", override)
		}
	}

	history, err := b.repo.ListMessages(conversationID)
	if err != nil {
		return nil, err
	}

	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, schema.SystemMessage(SystemPrompt))
	for _, msg := range history {
		if msg.Status == model.StatusStreaming {
			continue
		}
		switch msg.Role {
		case model.RoleUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case model.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return &Request{
		Messages:      messages,
		UpstreamModel: b.ResolveUpstreamModel(variant),
	}, nil
}

// BuildFromMessages 从调用方给出的 (role, content) 列表组装上下文
// 供无会话的直连流式端点使用
func (b *Builder) BuildFromMessages(entries []Entry, variant string) (*Request, error) {
	if b.ai.APIKey == "" {
		return nil, errs.New(errs.KindConfiguration, "gemini api key is not configured")
	}

	messages := make([]*schema.Message, 0, len(entries)+1)
	messages = append(messages, schema.SystemMessage(SystemPrompt))
	for _, e := range entries {
		switch e.Role {
		case model.RoleUser:
			messages = append(messages, schema.UserMessage(e.Content))
		case model.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(e.Content, nil))
		default:
			return nil, errs.Newf(errs.KindInvalidArgument, "unknown role %q", e.Role)
		}
	}

	return &Request{
		Messages:      messages,
		UpstreamModel: b.ResolveUpstreamModel(model.ModelVariant(variant)),
	}, nil
}

// Entry 一条 (role, content) 上下文条目
type Entry struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

// ResolveUpstreamModel 将模型档位映射为上游模型名
// 档位未知或未配置时回落到进程默认模型
func (b *Builder) ResolveUpstreamModel(variant model.ModelVariant) string {
	var name string
	switch variant {
	case model.VariantPro:
		name = b.ai.ProModel
	case model.VariantFlash:
		name = b.ai.FlashModel
	case model.VariantLite:
		name = b.ai.LiteModel
	}
	if name == "" {
		return b.ai.DefaultModel
	}
	return name
}
