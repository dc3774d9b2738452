// Package errs 定义统一的错误分类
// Handler 层据此映射 HTTP 状态码，Service 层据此决定是否可重试
package errs

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	// KindInvalidArgument 参数非法（空标题、空内容、未知模型档位）
	KindInvalidArgument Kind = iota + 1
	// KindNotFound 会话或消息不存在
	KindNotFound
	// KindUpstream 上游模型调用失败（网络、鉴权、限流）
	KindUpstream
	// KindConfiguration 配置缺失（如 API Key 未设置）
	KindConfiguration
)

// Error 带类别的错误
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建带类别的错误
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf 创建带类别的格式化错误
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf 提取错误类别，未分类返回 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound 是否为 NotFound 类错误
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsInvalidArgument 是否为参数非法类错误
func IsInvalidArgument(err error) bool {
	return KindOf(err) == KindInvalidArgument
}
