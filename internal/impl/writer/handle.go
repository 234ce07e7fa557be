package writer

import (
	"sync/atomic"

	"github.com/uniyakcom/dsui/core"
)

// Handle 一个 Stream 对共享 Writer 的引用
//
// 每个 Handle 只能 Release 一次；最后一个 Handle 释放时关闭 Writer。
type Handle struct {
	w        *Writer
	released atomic.Bool
}

// Acquire 为 Stream 取得一个引用；Writer 已在关闭时返回 ErrClosed
func (w *Writer) Acquire() (*Handle, error) {
	w.refMu.Lock()
	defer w.refMu.Unlock()
	if w.closing {
		return nil, core.Errorf("writer.Acquire", core.ErrClosed, "sink %s", w.name)
	}
	w.refs++
	return &Handle{w: w}, nil
}

// Writer 被引用的 Writer
func (h *Handle) Writer() *Writer { return h.w }

// Release 释放引用；最后一个引用释放时关闭 Writer 并回调 OnIdle
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	w := h.w
	w.refMu.Lock()
	w.refs--
	last := w.refs == 0 && !w.closing
	if last {
		w.closing = true
	}
	w.refMu.Unlock()

	if !last {
		return w.Err()
	}
	err := w.Close()
	if w.onIdle != nil {
		w.onIdle(w)
	}
	return err
}

// Refs 当前引用数
func (w *Writer) Refs() int32 {
	w.refMu.Lock()
	defer w.refMu.Unlock()
	return w.refs
}
