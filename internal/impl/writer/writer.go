// Package writer 提供单个输出目标（文件 / socket）的串行化写出
//
// 设计特点:
//   - 每个 sink 一个 Writer，可被多个 Stream 共享（Handle 引用计数，最后一个释放者关闭）
//   - 写锁 mu 包住底层 Write，序号也在同一把锁（直写路径）或原子计数器（缓冲路径）上分配，
//     同一 sink 内的序号构成全局全序
//   - 后台 drain 循环从 pending 队列取满 buffer，写出后归还到其所属 Arena
//   - Sink 写失败是粘滞的：之后入队的 buffer 直接归还并计数，错误经 Err() 上报
//   - 缓冲模式下序号在记录写入 buffer 时分配，不同 Stream 的 buffer 按交付先后写出，
//     因此文件中的记录不保证按 seq 递增；seq 稠密且唯一，读取方用 reader.SortBySeq 还原全序
//
// 数据流:
//
//	Stream.log → Buffer 写满 → Enqueue → queue → loop → sink.Write → Buffer.Release
package writer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/uniyakcom/dsui/core"
	"github.com/uniyakcom/dsui/internal/support/clock"
	"github.com/uniyakcom/dsui/internal/support/pool"
	"github.com/uniyakcom/dsui/internal/support/queue"
)

// Spawner 启动后台任务（由 Runtime 的 worker pool 提供）
type Spawner func(task func()) error

// Config Writer 配置
type Config struct {
	Logger *slog.Logger
	Spawn  Spawner         // nil 时使用 go 语句
	OnIdle func(w *Writer) // 最后一个 Handle 释放、Writer 关闭后回调
	Flags  uint32          // 写入文件头的 flags
}

// Writer 单 sink 串行写出器
type Writer struct {
	name string
	sink io.WriteCloser
	log  *slog.Logger

	// 写锁：底层 Write + 直写路径的序号分配
	mu      sync.Mutex
	scratch []byte

	seq     atomic.Uint32
	queue   *queue.Queue[*pool.Buffer]
	pending atomic.Int64
	// pending 归零时广播，Sync 在其上等待
	idleMu sync.Mutex
	idle   *sync.Cond

	// 引用计数（Handle）
	refMu   sync.Mutex
	refs    int32
	closing bool
	onIdle  func(w *Writer)

	bytes   atomic.Uint64
	buffers atomic.Uint64
	direct  atomic.Uint64
	dropped atomic.Uint64

	errMu sync.Mutex
	err   error

	header    core.FileHeader
	calib     clock.Calibration
	started   bool
	stopped   chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New 创建 Writer：同步写出文件头，再启动 drain 循环
func New(name string, sink io.WriteCloser, cfg Config) (*Writer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Writer{
		name:    name,
		sink:    sink,
		log:     cfg.Logger.With("sink", name),
		queue:   queue.New[*pool.Buffer](64),
		onIdle:  cfg.OnIdle,
		stopped: make(chan struct{}),
		calib:   clock.Calibrate(),
	}
	w.idle = sync.NewCond(&w.idleMu)
	w.header = core.FileHeader{
		Version: core.FormatVersion,
		PID:     clock.PID(),
		Flags:   cfg.Flags,
		WallNS:  w.calib.WallNS,
		MonoNS:  w.calib.MonoNS,
		RunID:   [16]byte(uuid.New()),
	}

	hdr := w.header.Encode()
	n, err := sink.Write(hdr)
	w.bytes.Add(uint64(n))
	if err != nil {
		_ = sink.Close()
		return nil, core.SinkError("writer.New", err)
	}

	spawn := cfg.Spawn
	if spawn == nil {
		spawn = func(task func()) error {
			go task()
			return nil
		}
	}
	if err := spawn(w.loop); err != nil {
		// 没有后台线程时在 Close 中同步排空
		w.log.Warn("writer loop not started, draining on close", "error", err)
	} else {
		w.started = true
	}

	w.log.Info("sink opened", "run_id", uuid.UUID(w.header.RunID).String())
	return w, nil
}

// Name sink 名称（文件路径或 host:port）
func (w *Writer) Name() string { return w.name }

// Header 写出的文件头
func (w *Writer) Header() core.FileHeader { return w.header }

// ─── 序号 ───────────────────────────────────────────────────────────

// NextSeq 分配下一个序号
func (w *Writer) NextSeq() uint32 { return w.seq.Add(1) }

// Reserve 连续预留 n 个序号，返回第一个
func (w *Writer) Reserve(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return w.seq.Add(n) - n + 1
}

// ─── 缓冲路径 ───────────────────────────────────────────────────────

// Enqueue 交付一个满 buffer（所有权转移给 Writer）
func (w *Writer) Enqueue(b *pool.Buffer) {
	if b == nil {
		return
	}
	if b.Empty() {
		b.Release()
		return
	}
	if w.closed.Load() {
		w.dropped.Add(1)
		b.Release()
		return
	}
	w.pending.Add(1)
	w.queue.PushBack(b)
}

// EnqueueBatch 按顺序交付一组 buffer，组内不会被其他 Stream 的 buffer 插入
func (w *Writer) EnqueueBatch(bs []*pool.Buffer) {
	out := bs[:0:0]
	for _, b := range bs {
		if b == nil {
			continue
		}
		if b.Empty() {
			b.Release()
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return
	}
	if w.closed.Load() {
		for _, b := range out {
			w.dropped.Add(1)
			b.Release()
		}
		return
	}
	w.pending.Add(int64(len(out)))
	w.queue.PushBackAll(out)
}

func nonEmpty(n int) bool { return n > 0 }

// loop drain 循环：Wait → PopFront → write；关闭后排空剩余 buffer 再退出
func (w *Writer) loop() {
	defer close(w.stopped)
	for {
		_, open := w.queue.Wait(nonEmpty)
		if b, ok := w.queue.PopFront(); ok {
			w.writeBuffer(b)
			continue
		}
		if !open {
			return
		}
	}
}

// drainInline 无后台线程时同步排空
func (w *Writer) drainInline() {
	for {
		b, ok := w.queue.PopFront()
		if !ok {
			return
		}
		w.writeBuffer(b)
	}
}

// writeBuffer 写出 buffer 的已写区域并归还
func (w *Writer) writeBuffer(b *pool.Buffer) {
	defer w.done()
	if w.Err() != nil {
		w.dropped.Add(1)
		b.Release()
		return
	}
	w.mu.Lock()
	n, err := w.sink.Write(b.Bytes())
	w.mu.Unlock()
	w.bytes.Add(uint64(n))
	if err != nil {
		w.fail(err)
		w.dropped.Add(1)
	} else {
		w.buffers.Add(1)
	}
	b.Release()
}

// ─── 直写路径 ───────────────────────────────────────────────────────

// Direct 在写锁内分配序号并写出 build 生成的记录（cache_size == 0）
//
// build 向 dst 追加编码后的记录，reserve(n) 连续分配 n 个序号。
// 序号分配与写出在同一把锁内，因此文件中的序号严格递增。
func (w *Writer) Direct(records uint64, build func(dst []byte, reserve func(n uint32) uint32) []byte) error {
	if err := w.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.scratch = build(w.scratch[:0], w.Reserve)
	n, err := w.sink.Write(w.scratch)
	if cap(w.scratch) > 1<<20 {
		w.scratch = nil
	}
	w.mu.Unlock()

	w.bytes.Add(uint64(n))
	if err != nil {
		w.fail(err)
		return w.Err()
	}
	w.direct.Add(records)
	return nil
}

// ─── 错误 ───────────────────────────────────────────────────────────

func (w *Writer) fail(cause error) {
	w.errMu.Lock()
	first := w.err == nil
	if first {
		w.err = core.SinkError("writer.write", cause)
	}
	w.errMu.Unlock()
	if first {
		w.log.Error("sink write failed, writer stopped", "error", cause)
	}
}

// Err 粘滞的写失败错误
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// ─── 同步与关闭 ─────────────────────────────────────────────────────

// done 一个 buffer 处理完毕；最后一个唤醒 Sync
func (w *Writer) done() {
	if w.pending.Add(-1) == 0 {
		w.idleMu.Lock()
		w.idle.Broadcast()
		w.idleMu.Unlock()
	}
}

// waitIdle 阻塞直到 pending 归零或 ctx 结束
func (w *Writer) waitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		w.idleMu.Lock()
		w.idle.Broadcast()
		w.idleMu.Unlock()
	})
	defer stop()

	w.idleMu.Lock()
	defer w.idleMu.Unlock()
	for w.pending.Load() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.idle.Wait()
	}
	return nil
}

type flusher interface{ Flush() error }

// Sync 等待已入队的 buffer 全部写出，然后刷新 sink 内部缓冲
func (w *Writer) Sync(ctx context.Context) error {
	if w.closed.Load() {
		return w.Err()
	}
	if !w.started {
		w.drainInline()
	}
	if err := w.waitIdle(ctx); err != nil {
		return err
	}
	if f, ok := w.sink.(flusher); ok {
		w.mu.Lock()
		err := f.Flush()
		w.mu.Unlock()
		if err != nil {
			w.fail(err)
		}
	}
	return w.Err()
}

// Close 停止 drain 循环、排空剩余 buffer 并关闭 sink（幂等）
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.refMu.Lock()
		w.closing = true
		w.refMu.Unlock()

		w.closed.Store(true)
		w.queue.Close()
		if w.started {
			<-w.stopped
		}
		w.drainInline()

		if err := w.sink.Close(); err != nil {
			w.fail(err)
		}
		w.closeErr = w.Err()
		w.log.Info("sink closed",
			"bytes", w.bytes.Load(),
			"buffers", w.buffers.Load(),
			"dropped", w.dropped.Load())
	})
	return w.closeErr
}

// Stats 统计快照
func (w *Writer) Stats() core.WriterStats {
	w.refMu.Lock()
	refs := w.refs
	w.refMu.Unlock()
	st := core.WriterStats{
		Name:    w.name,
		Refs:    refs,
		Bytes:   w.bytes.Load(),
		Buffers: w.buffers.Load(),
		Direct:  w.direct.Load(),
		Dropped: w.dropped.Load(),
		Pending: w.pending.Load(),
		Seq:     w.seq.Load(),
	}
	if err := w.Err(); err != nil {
		st.Failed = true
		st.LastFail = err.Error()
	}
	return st
}
