// Package callback 提供生成链路的 Eino 回调日志
package callback

import (
	"context"
	"log"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
)

// 日志里单条载荷的截断长度
const maxPayload = 200

// Logger 模型调用日志回调
// 错误总是记录，起止事件只在调试模式下记录
type Logger struct {
	debug bool
}

// NewLogger 创建日志回调
func NewLogger(debug bool) *Logger {
	return &Logger{debug: debug}
}

// OnStart 组件调用开始
func (l *Logger) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if l.debug {
		log.Printf("[gen] start: component=%s name=%s input=%v", info.Component, info.Name, truncate(input))
	}
	return ctx
}

// OnEnd 组件调用正常结束
func (l *Logger) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if l.debug {
		log.Printf("[gen] end: component=%s name=%s output=%v", info.Component, info.Name, truncate(output))
	}
	return ctx
}

// OnError 组件调用失败
func (l *Logger) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	log.Printf("[gen] error: component=%s name=%s err=%v", info.Component, info.Name, err)
	return ctx
}

// OnStartWithStreamInput 流式输入开始
func (l *Logger) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	if l.debug {
		log.Printf("[gen] stream start: component=%s name=%s", info.Component, info.Name)
	}
	return ctx
}

// OnEndWithStreamOutput 流式输出结束
func (l *Logger) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	if l.debug {
		log.Printf("[gen] stream end: component=%s name=%s", info.Component, info.Name)
	}
	return ctx
}

// truncate 压缩日志载荷，长文本只留前缀
func truncate(v interface{}) interface{} {
	if s, ok := v.(string); ok && len(s) > maxPayload {
		return s[:maxPayload] + "..."
	}
	return v
}

// SetupGlobalCallbacks 注册全局回调
func SetupGlobalCallbacks(debug bool) {
	callbacks.AppendGlobalHandlers(NewLogger(debug))
}
