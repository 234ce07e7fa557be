package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/uniyakcom/dsui/core"
	"github.com/uniyakcom/dsui/internal/support/pool"
)

// ordered 把缓存内容排成时间顺序：ring 模式队首是最新的当前 buffer
func (s *Stream) ordered(items []*pool.Buffer) []*pool.Buffer {
	if s.mode != core.ModeRing || len(items) < 2 {
		return items
	}
	out := make([]*pool.Buffer, 0, len(items))
	out = append(out, items[1:]...)
	return append(out, items[0])
}

// split 分出有数据的与空的 buffer
func split(items []*pool.Buffer) (full, empty []*pool.Buffer) {
	for _, b := range items {
		if b.Empty() {
			empty = append(empty, b)
		} else {
			full = append(full, b)
		}
	}
	return full, empty
}

// drain 把缓存中的数据按顺序交给 Writer，空 buffer 留在缓存，再补回水位
func (s *Stream) drain() {
	if s.cache == nil {
		return
	}
	if s.mode == core.ModeRing {
		s.ringMu.Lock()
		defer s.ringMu.Unlock()
	}
	full, empty := split(s.ordered(s.cache.Drain()))
	s.w.EnqueueBatch(full)
	s.cache.PushBackAll(empty)
	if n := s.cacheSize - s.cache.Len(); n > 0 {
		if err := s.repl.Fill(n); err != nil {
			s.log.Warn("cache refill after flush incomplete", "missing", n, "error", err)
		}
	}
}

// Flush 交出缓存数据并等待 Writer 写出；返回 sink 写错误
func (s *Stream) Flush(ctx context.Context) error {
	s.gate.RLock()
	if s.state.Load() == stateClosed {
		s.gate.RUnlock()
		return core.Errorf("stream.Flush", core.ErrClosed, "stream %d", s.id)
	}
	s.drain()
	s.gate.RUnlock()
	return s.w.Sync(ctx)
}

// Snapshot 为每个有状态实体记录一条当前值（不重置）
func (s *Stream) Snapshot() error {
	var first error
	for _, st := range s.registry.Enabled(s.id) {
		tag, payload, ok := st.Snapshot()
		if !ok {
			continue
		}
		if err := s.Log(st.IP(), tag, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close 关闭 Stream（幂等）
//
// 顺序：禁用全部实体并输出最终快照 → 停止补充线程 → 拒绝新的 Log →
// 剩余缓存交给 Writer → 释放 Writer 引用（最后一个引用关闭 sink）。
func (s *Stream) Close(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateOpen, stateClosing) {
		return nil
	}
	var errs []error
	add := func(err error) {
		if err == nil {
			return
		}
		for _, e := range errs {
			if errors.Is(e, err) {
				return
			}
		}
		errs = append(errs, err)
	}

	add(s.registry.DisableAll(s, true))
	if s.repl != nil {
		s.repl.Stop()
	}

	s.gate.Lock()
	s.state.Store(stateClosed)
	s.gate.Unlock()

	if s.cache != nil {
		full, empty := split(s.ordered(s.cache.Drain()))
		s.w.EnqueueBatch(full)
		for _, b := range empty {
			b.Release()
		}
		s.cache.Close()
	}

	if n := s.blocked.Read(); n > 0 {
		s.log.Warn(fmt.Sprintf("buffer management thread failed to keep up %d times", n), "block_count", n)
	}

	add(s.w.Sync(ctx))
	add(s.handle.Release())
	s.log.Info("stream closed", "logged", s.logged.Read(), "dropped", s.dropped.Read())
	return errors.Join(errs...)
}
