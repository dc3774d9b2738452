package service

import (
	"context"
	"log"

	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/gemini-chat/internal/config"
	"github.com/ashwinyue/gemini-chat/internal/errs"
	"github.com/ashwinyue/gemini-chat/internal/repository"
	"github.com/ashwinyue/gemini-chat/internal/service/conversation"
	"github.com/ashwinyue/gemini-chat/internal/service/event"
	"github.com/ashwinyue/gemini-chat/internal/service/prompt"
	"github.com/ashwinyue/gemini-chat/internal/service/relay"
)

// Services 服务集合
type Services struct {
	Conversation *conversation.Service
	Prompt       *prompt.Builder
	Relay        *relay.Relay
	Bus          *event.Bus

	// 配置
	Config *config.Config

	// Eino 组件（直接使用 eino 类型，无封装）
	ChatModel einomodel.ChatModel
}

// NewServices 创建所有服务
func NewServices(repo *repository.Repositories, cfg *config.Config, redisClient *redis.Client) (*Services, error) {
	ctx := context.Background()

	bus := event.NewBus()

	// 创建 ChatModel，失败不阻断启动，生成请求会以配置错误失败
	chatModel, err := newChatModel(ctx, cfg)
	if err != nil {
		log.Printf("Warning: failed to create chat model: %v", err)
	}

	convSvc := conversation.NewService(repo.Conversation, bus)
	builder := prompt.NewBuilder(repo.Conversation, cfg.AI)
	streamRelay := relay.New(convSvc, chatModel, redisClient, cfg.AI.StreamIdleTimeout)

	return &Services{
		Conversation: convSvc,
		Prompt:       builder,
		Relay:        streamRelay,
		Bus:          bus,
		Config:       cfg,
		ChatModel:    chatModel,
	}, nil
}

// Close 释放服务持有的后台资源
func (s *Services) Close() {
	if s.Relay != nil {
		s.Relay.Close()
	}
}

// newChatModel 创建 ChatModel
// 走 Gemini 的 OpenAI 兼容端点
func newChatModel(ctx context.Context, cfg *config.Config) (einomodel.ChatModel, error) {
	aiCfg := cfg.AI

	if aiCfg.APIKey == "" {
		return nil, errs.New(errs.KindConfiguration, "ai.apiKey is required")
	}

	modelName := aiCfg.DefaultModel
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  aiCfg.APIKey,
		BaseURL: aiCfg.BaseURL,
		Model:   modelName,
	})
}
