package core

import (
	"errors"
	"fmt"
)

// 标准错误
//
// 分配与背压问题只计数（降级路径），配置与身份错误以类型化结果返回，
// Sink 写失败对该 Writer 是致命的（粘滞错误）。
var (
	ErrAllocationExhausted = errors.New("dsui: buffer arena exhausted")
	ErrAlreadyEnabled      = errors.New("dsui: entity already enabled on stream")
	ErrNotEnabled          = errors.New("dsui: entity not enabled on stream")
	ErrUnknownStream       = errors.New("dsui: unknown stream")
	ErrUnknownIP           = errors.New("dsui: unknown instrumentation point")
	ErrUnknownSink         = errors.New("dsui: unknown sink")
	ErrInvalidConfig       = errors.New("dsui: invalid configuration")
	ErrKindMismatch        = errors.New("dsui: instrumentation point kind mismatch")
	ErrSinkWriteFailed     = errors.New("dsui: sink write failed")
	ErrClosed              = errors.New("dsui: closed")
)

// Error 带操作上下文的错误（errors.Is 可匹配内部 sentinel）
type Error struct {
	Op     string // 操作，如 "stream.Log"
	Err    error  // sentinel 或底层错误
	Detail string // 可选说明
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Op + ": " + e.Err.Error() + ": " + e.Detail
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap 返回内部错误
func (e *Error) Unwrap() error { return e.Err }

// Wrap 包装错误，err 为 nil 时返回 nil
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Errorf 以格式化说明包装 sentinel
func Errorf(op string, err error, format string, args ...any) error {
	return &Error{Op: op, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// SinkError 把底层 I/O 错误归类为 ErrSinkWriteFailed，同时保留原始错误
func SinkError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrSinkWriteFailed, cause)}
}
