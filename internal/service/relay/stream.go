package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ashwinyue/gemini-chat/internal/model"
)

// Stream 流句柄
// 以独立于任何单个订阅者连接的 ID 标识一次生成，
// 缓冲全部已到达的文本块供迟到与重连的订阅者回放
type Stream struct {
	ID             string
	ConversationID string
	MessageID      string
	CreatedAt      time.Time

	mu         sync.Mutex
	cond       *sync.Cond
	chunks     []string
	total      strings.Builder
	running    bool
	done       bool
	status     string
	finishedAt time.Time
}

// newStream 创建流句柄
func newStream(id, conversationID, messageID string) *Stream {
	s := &Stream{
		ID:             id,
		ConversationID: conversationID,
		MessageID:      messageID,
		CreatedAt:      time.Now(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// append 追加一个文本块并唤醒等待中的订阅者
func (s *Stream) append(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = append(s.chunks, chunk)
	s.total.WriteString(chunk)
	s.cond.Broadcast()
}

// finish 标记流终止
// 对已连接的订阅者这不是传输错误，它们只是观察不到后续块
func (s *Stream) finish(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	s.status = status
	s.finishedAt = time.Now()
	s.cond.Broadcast()
}

// Content 返回累计的全部文本
func (s *Stream) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.String()
}

// Status 返回终态，未终止时为空串
func (s *Stream) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		return ""
	}
	return s.status
}

// Done 流是否已终止
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Chunks 返回已缓冲块的副本
func (s *Stream) Chunks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.chunks...)
}

// tryStart 声明本流的唯一一次 Run，重复启动返回 false
func (s *Stream) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.done {
		return false
	}
	s.running = true
	return true
}

// next 阻塞等待 index 之后的块
// 返回新块切片以及流是否已终止；ctx 取消时返回其错误
func (s *Stream) next(ctx context.Context, index int) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if index < len(s.chunks) {
			return append([]string{}, s.chunks[index:]...), s.done, nil
		}
		if s.done {
			return nil, true, nil
		}
		s.cond.Wait()
	}
}

// wake 唤醒所有等待者，供 ctx 取消监视使用
func (s *Stream) wake() {
	s.cond.Broadcast()
}

// expired 流终止后是否已超过保留窗口
func (s *Stream) expired(retention time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done && now.Sub(s.finishedAt) > retention
}

// restored 从 Redis 镜像重建的只读流
// 原进程已不在，未终止的流按 aborted 处理
func restored(id string, chunks []string, meta *streamMeta) *Stream {
	s := newStream(id, meta.ConversationID, meta.MessageID)
	for _, c := range chunks {
		s.chunks = append(s.chunks, c)
		s.total.WriteString(c)
	}
	status := meta.Status
	if status == "" {
		status = model.StatusAborted
	}
	s.done = true
	s.status = status
	s.finishedAt = time.Now()
	return s
}
