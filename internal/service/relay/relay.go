// Package relay 实现流式响应的分发与落盘
// 单个上游生成对应一个流句柄，任意数量的订阅者按块回放加实时跟读，
// 生成结束后由本包将最终内容一次性提交到存储
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/gemini-chat/internal/errs"
	"github.com/ashwinyue/gemini-chat/internal/model"
	"github.com/ashwinyue/gemini-chat/internal/service/conversation"
)

const (
	// 流终止后在内存中的保留窗口，窗口内支持重连回放
	defaultRetention = 10 * time.Minute
	// Redis 镜像的过期时间
	streamTTL = 30 * time.Minute
	// Redis key 前缀
	chunkKeyPrefix = "stream:chunks:"
	metaKeyPrefix  = "stream:meta:"
)

// streamMeta 流元数据（用于 Redis 存储）
type streamMeta struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Status         string `json:"status,omitempty"`
	Done           bool   `json:"done"`
}

// Relay 流中继
type Relay struct {
	store       *conversation.Service
	chatModel   einomodel.ChatModel
	redis       *redis.Client
	idleTimeout time.Duration
	retention   time.Duration

	mu      sync.Mutex
	streams map[string]*Stream

	stopCh  chan struct{}
	stopped bool
}

// New 创建流中继
// chatModel 为 nil 时所有生成请求以配置错误失败，存储操作不受影响
func New(store *conversation.Service, chatModel einomodel.ChatModel, redisClient *redis.Client, idleTimeoutSeconds int) *Relay {
	idle := time.Duration(idleTimeoutSeconds) * time.Second
	if idle <= 0 {
		idle = 60 * time.Second
	}
	r := &Relay{
		store:       store,
		chatModel:   chatModel,
		redis:       redisClient,
		idleTimeout: idle,
		retention:   defaultRetention,
		streams:     make(map[string]*Stream),
		stopCh:      make(chan struct{}),
	}
	go r.evictLoop()
	return r
}

// Close 停止后台清理，可重复调用
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	close(r.stopCh)
}

// Open 分配流句柄，并在同一步创建对应的流式占位助手消息
// 每条助手消息至多对应一个打开的流
func (r *Relay) Open(ctx context.Context, conversationID string) (*Stream, error) {
	streamID := uuid.New().String()

	msg, err := r.store.AppendStreamingPlaceholder(ctx, conversationID, streamID)
	if err != nil {
		return nil, err
	}

	st := newStream(streamID, conversationID, msg.ID)
	r.mu.Lock()
	r.streams[streamID] = st
	r.mu.Unlock()

	r.mirrorMeta(ctx, st, "", false)
	return st, nil
}

// Get 获取流句柄
func (r *Relay) Get(streamID string) (*Stream, bool) {
	r.mu.Lock()
	st, ok := r.streams[streamID]
	r.mu.Unlock()
	return st, ok
}

// Run 调用上游生成并将增量块写入流句柄
// 独立于任何订阅者的生命周期执行，订阅者断开不会取消上游生成
func (r *Relay) Run(ctx context.Context, streamID string, messages []*schema.Message, upstreamModel string) error {
	st, ok := r.Get(streamID)
	if !ok {
		return errs.Newf(errs.KindNotFound, "stream %s not found", streamID)
	}
	if !st.tryStart() {
		return errs.Newf(errs.KindInvalidArgument, "stream %s already started", streamID)
	}

	if r.chatModel == nil {
		err := errs.New(errs.KindConfiguration, "chat model is not configured")
		r.abort(st)
		return err
	}

	reader, err := r.chatModel.Stream(ctx, messages, einomodel.WithModel(upstreamModel))
	if err != nil {
		r.abort(st)
		return errs.Wrap(errs.KindUpstream, "failed to open generation", err)
	}
	defer reader.Close()

	// Recv 放到独立 goroutine，主循环才能叠加空闲超时
	// runDone 让泵在主循环因超时或取消退出后也能退出，不会卡在投递上
	type recvResult struct {
		msg *schema.Message
		err error
	}
	recvCh := make(chan recvResult, 8)
	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		defer close(recvCh)
		for {
			m, err := reader.Recv()
			select {
			case recvCh <- recvResult{msg: m, err: err}:
			case <-runDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	idle := time.NewTimer(r.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			r.abort(st)
			return errs.Wrap(errs.KindUpstream, "generation cancelled", ctx.Err())
		case <-idle.C:
			r.abort(st)
			return errs.Newf(errs.KindUpstream, "no chunk received within %s", r.idleTimeout)
		case res := <-recvCh:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					r.complete(st)
					return nil
				}
				r.abort(st)
				return errs.Wrap(errs.KindUpstream, "generation failed", res.err)
			}
			if res.msg != nil && res.msg.Content != "" {
				st.append(res.msg.Content)
				r.mirrorChunk(ctx, st.ID, res.msg.Content)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.idleTimeout)
		}
	}
}

// Subscribe 订阅流
// 订阅者先收到完整的缓冲历史，再实时跟读后续块，通道关闭即终止信号
// 内存中不存在的流尝试从 Redis 镜像重建，支持跨进程重连
func (r *Relay) Subscribe(ctx context.Context, streamID string) (<-chan string, error) {
	st, ok := r.Get(streamID)
	if !ok {
		st = r.loadFromRedis(ctx, streamID)
		if st == nil {
			return nil, errs.Newf(errs.KindNotFound, "stream %s not found", streamID)
		}
		r.mu.Lock()
		r.streams[streamID] = st
		r.mu.Unlock()
	}

	ch := make(chan string, 16)

	// ctx 取消时唤醒 cond 等待者，让订阅 goroutine 及时退出
	go func() {
		<-ctx.Done()
		st.wake()
	}()

	go func() {
		defer close(ch)
		index := 0
		for {
			chunks, done, err := st.next(ctx, index)
			if err != nil {
				return
			}
			for _, c := range chunks {
				select {
				case <-ctx.Done():
					return
				case ch <- c:
				}
			}
			index += len(chunks)
			if done {
				return
			}
		}
	}()

	return ch, nil
}

// complete 正常完成：终态落盘为 final，内容为全部块的拼接
// 先落盘再给订阅者发终止信号，订阅者对账时一定能读到终态
func (r *Relay) complete(st *Stream) {
	r.finalize(st, model.StatusFinal)
	st.finish(model.StatusFinal)
}

// abort 中断：保留已累计的部分文本，终态落盘为 aborted
func (r *Relay) abort(st *Stream) {
	r.finalize(st, model.StatusAborted)
	st.finish(model.StatusAborted)
}

// finalize 提交终态到存储
// Run 可能因调用方 ctx 取消而走到这里，落盘用独立的超时 ctx
func (r *Relay) finalize(st *Stream, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := r.store.FinalizeMessage(ctx, st.MessageID, st.Content(), status); err != nil {
		log.Printf("Warning: failed to finalize message %s: %v", st.MessageID, err)
	}
	r.mirrorMeta(ctx, st, status, true)
}

// mirrorChunk 将块追加到 Redis 镜像，尽力而为
func (r *Relay) mirrorChunk(ctx context.Context, streamID, chunk string) {
	if r.redis == nil {
		return
	}
	key := chunkKeyPrefix + streamID
	pipe := r.redis.Pipeline()
	pipe.RPush(ctx, key, chunk)
	pipe.Expire(ctx, key, streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Warning: failed to mirror chunk for stream %s: %v", streamID, err)
	}
}

// mirrorMeta 将流元数据写入 Redis 镜像，尽力而为
func (r *Relay) mirrorMeta(ctx context.Context, st *Stream, status string, done bool) {
	if r.redis == nil {
		return
	}
	meta := streamMeta{
		ConversationID: st.ConversationID,
		MessageID:      st.MessageID,
		Status:         status,
		Done:           done,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, metaKeyPrefix+st.ID, data, streamTTL).Err(); err != nil {
		log.Printf("Warning: failed to mirror meta for stream %s: %v", st.ID, err)
	}
}

// loadFromRedis 从镜像重建流
func (r *Relay) loadFromRedis(ctx context.Context, streamID string) *Stream {
	if r.redis == nil {
		return nil
	}

	data, err := r.redis.Get(ctx, metaKeyPrefix+streamID).Result()
	if err != nil {
		return nil
	}
	var meta streamMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil
	}

	chunks, err := r.redis.LRange(ctx, chunkKeyPrefix+streamID, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil
	}

	return restored(streamID, chunks, &meta)
}

// evictLoop 周期清理超过保留窗口的已终止流
func (r *Relay) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for id, st := range r.streams {
				if st.expired(r.retention, now) {
					delete(r.streams, id)
				}
			}
			r.mu.Unlock()
		}
	}
}

