package dsui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/uniyakcom/dsui/config"
	"github.com/uniyakcom/dsui/core"
	"github.com/uniyakcom/dsui/internal/impl/entity"
	"github.com/uniyakcom/dsui/internal/impl/stream"
	"github.com/uniyakcom/dsui/internal/impl/writer"
	"github.com/uniyakcom/dsui/internal/support/clock"
	"github.com/uniyakcom/dsui/internal/support/pool"
	"github.com/uniyakcom/dsui/metrics"
)

// ═══════════════════════════════════════════════════════════════════
// Runtime：进程内埋点注册表 + sink + stream 的生命周期
// ═══════════════════════════════════════════════════════════════════

// StreamID Stream 标识（从 1 开始）
type StreamID uint32

// Sink 一个已打开的输出目标
//
// 同一目标（文件绝对路径 / host:port）重复打开得到同一个 Sink。
// Runtime 自身持有一个引用，每个 Stream 各持有一个；全部释放后 sink 关闭。
type Sink struct {
	name   string
	w      *writer.Writer
	handle *writer.Handle // Runtime 的引用，CloseSink 后为 nil（由 Runtime.mu 保护）
}

// Name sink 名称
func (s *Sink) Name() string { return s.name }

// Err sink 的粘滞写错误
func (s *Sink) Err() error { return s.w.Err() }

// Runtime dsui 运行时
type Runtime struct {
	opts     config.Options
	log      *slog.Logger
	arena    *pool.Arena
	registry *entity.Registry
	workers  *ants.Pool
	advisor  *config.Advisor

	registerer prometheus.Registerer
	collector  *metrics.Collector

	mu      sync.Mutex
	sinks   map[string]*Sink
	opening map[string]chan struct{} // 正在连接 / 写文件头的 sink 名，关闭时通知等待者
	streams map[StreamID]*stream.Stream
	nextID  uint32
	closed  bool
}

// antsLogger 把 ants 内部日志转到 slog
type antsLogger struct{ l *slog.Logger }

func (a antsLogger) Printf(format string, args ...any) {
	a.l.Warn(fmt.Sprintf(format, args...))
}

// New 创建 Runtime
func New(opts ...Option) (*Runtime, error) {
	s := settings{opts: config.DefaultOptions()}
	for _, o := range opts {
		o(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if err := s.opts.Validate(); err != nil {
		return nil, err
	}

	arena, err := pool.New(s.opts.Arena())
	if err != nil {
		return nil, err
	}
	log := s.logger.With("component", "dsui")
	size := s.opts.Workers
	if size == 0 {
		size = -1
	}
	workers, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithLogger(antsLogger{l: log.With("component", "workers")}),
		ants.WithPanicHandler(func(p any) {
			log.Error("background worker panic", "panic", p)
		}),
	)
	if err != nil {
		return nil, core.Errorf("dsui.New", core.ErrInvalidConfig, "worker pool: %v", err)
	}

	r := &Runtime{
		opts:       s.opts,
		log:        log,
		arena:      arena,
		registry:   entity.NewRegistry(log),
		workers:    workers,
		advisor:    config.NewAdvisor(s.opts.PageSize),
		registerer: s.registerer,
		sinks:      make(map[string]*Sink),
		opening:    make(map[string]chan struct{}),
		streams:    make(map[StreamID]*stream.Stream),
	}
	if r.registerer != nil {
		r.collector = metrics.NewCollector(r)
		if err := r.registerer.Register(r.collector); err != nil {
			workers.Release()
			return nil, core.Errorf("dsui.New", core.ErrInvalidConfig, "register metrics: %v", err)
		}
	}
	log.Info("runtime started",
		"page_size", s.opts.PageSize,
		"initial_pages", s.opts.InitialPages,
		"max_pages", s.opts.MaxPages,
		"workers", s.opts.Workers)
	return r, nil
}

// spawn 在 worker pool 上启动后台循环
func (r *Runtime) spawn(task func()) error {
	return r.workers.Submit(task)
}

// Advisor 按本 Runtime 页大小计算缓存大小的 Advisor
func (r *Runtime) Advisor() *config.Advisor { return r.advisor }

// ─── 埋点 ───────────────────────────────────────────────────────────

// CreateIP 注册埋点；同名 (group, name) 返回已存在的 IP
func (r *Runtime) CreateIP(group, name string, kind Kind, info string) (*IP, error) {
	return r.registry.Register(group, name, kind, info)
}

// LookupIP 按 (group, name) 查找埋点
func (r *Runtime) LookupIP(group, name string) (*IP, bool) {
	return r.registry.Lookup(group, name)
}

// ─── Sink ───────────────────────────────────────────────────────────

// OpenFileSink 打开文件 sink；compress 为 true 时以 zstd 流写出
func (r *Runtime) OpenFileSink(path string, compress bool) (*Sink, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, core.Wrap("dsui.OpenFileSink", err)
	}
	return r.openSink(abs, func() (io.WriteCloser, error) {
		return writer.OpenFile(abs, compress)
	})
}

// OpenSocketSink 连接 TCP sink
func (r *Runtime) OpenSocketSink(ctx context.Context, host string, port int) (*Sink, error) {
	name := "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
	return r.openSink(name, func() (io.WriteCloser, error) {
		return writer.Dial(ctx, host, port)
	})
}

// OpenWriterSink 以任意 io.WriteCloser 作为 sink（嵌入场景）
func (r *Runtime) OpenWriterSink(name string, wc io.WriteCloser) (*Sink, error) {
	if wc == nil || name == "" {
		return nil, core.Errorf("dsui.OpenWriterSink", core.ErrInvalidConfig, "name and writer are required")
	}
	return r.openSink(name, func() (io.WriteCloser, error) { return wc, nil })
}

// openSink 复用同名 sink，否则创建 Writer 并取得 Runtime 引用
//
// 连接与文件头写出在 mu 之外进行；同名的并发打开者等待 opening 中的占位，
// 同一路径不会被打开两次（O_TRUNC 会互相覆盖）。
func (r *Runtime) openSink(name string, open func() (io.WriteCloser, error)) (*Sink, error) {
	const op = "dsui.OpenSink"
	r.mu.Lock()
	for {
		if r.closed {
			r.mu.Unlock()
			return nil, core.Errorf(op, core.ErrClosed, "runtime shut down")
		}
		if s, ok := r.sinks[name]; ok {
			err := r.reacquireLocked(s)
			r.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		ready, busy := r.opening[name]
		if !busy {
			break
		}
		r.mu.Unlock()
		<-ready
		r.mu.Lock()
	}
	ready := make(chan struct{})
	r.opening[name] = ready
	r.mu.Unlock()

	s, err := r.newSink(name, open)

	r.mu.Lock()
	delete(r.opening, name)
	close(ready)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if r.closed {
		r.mu.Unlock()
		_ = s.handle.Release()
		return nil, core.Errorf(op, core.ErrClosed, "runtime shut down")
	}
	r.sinks[name] = s
	r.mu.Unlock()
	return s, nil
}

// reacquireLocked CloseSink 之后再次打开同名 sink 时重新取得引用（调用方持有 mu）
func (r *Runtime) reacquireLocked(s *Sink) error {
	if s.handle != nil {
		return nil
	}
	h, err := s.w.Acquire()
	if err != nil {
		return err
	}
	s.handle = h
	return nil
}

// newSink 打开底层 writer 并写出文件头（不持有 mu）
func (r *Runtime) newSink(name string, open func() (io.WriteCloser, error)) (*Sink, error) {
	wc, err := open()
	if err != nil {
		return nil, err
	}
	s := &Sink{name: name}
	w, err := writer.New(name, wc, writer.Config{
		Logger: r.log,
		Spawn:  r.spawn,
		OnIdle: func(*writer.Writer) { r.forgetSink(s) },
	})
	if err != nil {
		return nil, err
	}
	h, err := w.Acquire()
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	s.w, s.handle = w, h
	return s, nil
}

// forgetSink Writer 关闭后从表中移除
func (r *Runtime) forgetSink(s *Sink) {
	r.mu.Lock()
	if r.sinks[s.name] == s {
		delete(r.sinks, s.name)
	}
	r.mu.Unlock()
}

// CloseSink 释放 Runtime 对 sink 的引用（幂等）
//
// 仍在使用该 sink 的 Stream 不受影响，最后一个 Stream 关闭时 sink 关闭。
func (r *Runtime) CloseSink(s *Sink) error {
	if s == nil {
		return core.Errorf("dsui.CloseSink", core.ErrUnknownSink, "nil sink")
	}
	r.mu.Lock()
	h := s.handle
	s.handle = nil
	r.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Release()
}

// ─── Stream ─────────────────────────────────────────────────────────

// OpenStream 在 sink 上打开 Stream
//
// sink 已写失败时返回该写错误。
func (r *Runtime) OpenStream(sink *Sink, cfg config.Stream, opts ...StreamOption) (StreamID, error) {
	const op = "dsui.OpenStream"
	if sink == nil {
		return 0, core.Errorf(op, core.ErrUnknownSink, "nil sink")
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	var ss streamSettings
	for _, o := range opts {
		o(&ss)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, core.Errorf(op, core.ErrClosed, "runtime shut down")
	}
	r.nextID++
	id := StreamID(r.nextID)
	r.mu.Unlock()

	h, err := sink.w.Acquire()
	if err != nil {
		return 0, err
	}
	s, err := stream.Open(stream.Config{
		ID:        uint32(id),
		CacheSize: cfg.CacheSize,
		Mode:      cfg.Mode,
		Arena:     r.arena,
		Handle:    h,
		Registry:  r.registry,
		Spawn:     r.spawn,
		Logger:    r.log,
		PreFilter: ss.pre,
		Trigger:   ss.trigger,
	})
	if err != nil {
		_ = h.Release()
		return 0, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = s.Close(context.Background())
		return 0, core.Errorf(op, core.ErrClosed, "runtime shut down")
	}
	r.streams[id] = s
	r.mu.Unlock()
	return id, nil
}

func (r *Runtime) stream(op string, id StreamID) (*stream.Stream, error) {
	r.mu.Lock()
	s, ok := r.streams[id]
	r.mu.Unlock()
	if !ok {
		return nil, core.Errorf(op, core.ErrUnknownStream, "stream %d", id)
	}
	return s, nil
}

// CloseStream 关闭 Stream：输出有状态实体的最终快照、写出缓存、释放 sink 引用
func (r *Runtime) CloseStream(ctx context.Context, id StreamID) error {
	r.mu.Lock()
	s, ok := r.streams[id]
	delete(r.streams, id)
	r.mu.Unlock()
	if !ok {
		return core.Errorf("dsui.CloseStream", core.ErrUnknownStream, "stream %d", id)
	}
	return s.Close(ctx)
}

// Flush 把 Stream 缓存交给 Writer 并等待写出
func (r *Runtime) Flush(ctx context.Context, id StreamID) error {
	s, err := r.stream("dsui.Flush", id)
	if err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Snapshot 为 Stream 上每个有状态实体记录当前值（不重置）
func (r *Runtime) Snapshot(id StreamID) error {
	s, err := r.stream("dsui.Snapshot", id)
	if err != nil {
		return err
	}
	return s.Snapshot()
}

// ─── 启用 / 禁用 ────────────────────────────────────────────────────

// Enable 在 Stream 上启用埋点
func (r *Runtime) Enable(id StreamID, ip *IP, cfg config.Entity) error {
	s, err := r.stream("dsui.Enable", id)
	if err != nil {
		return err
	}
	_, err = r.registry.Enable(s, ip, cfg.State())
	return err
}

// Disable 在 Stream 上禁用埋点；调优中的直方图先输出最终快照
func (r *Runtime) Disable(id StreamID, ip *IP) error {
	s, err := r.stream("dsui.Disable", id)
	if err != nil {
		return err
	}
	return r.registry.Disable(s, ip)
}

// ─── 日志热路径 ─────────────────────────────────────────────────────
//
// 埋点未在任何 Stream 上启用时以下操作都是一次原子读后返回。
// nil 埋点：返回 error 的操作返回 ErrUnknownIP，其余为空操作。

func nilIP(op string) error { return core.Errorf(op, core.ErrUnknownIP, "nil ip") }

// LogEvent 记录一个事件到所有启用该埋点的 Stream
func (r *Runtime) LogEvent(ip *IP, tag uint32, payload []byte) error {
	if ip == nil {
		return nilIP("dsui.LogEvent")
	}
	states := ip.States()
	if len(states) == 0 {
		return nil
	}
	var errs []error
	for _, st := range states {
		if err := st.Stream().Emit(ip, tag, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CounterAdd 计数器累加
func (r *Runtime) CounterAdd(ip *IP, n int64) {
	states := ip.States()
	if len(states) == 0 {
		return
	}
	now := clock.Now()
	for _, st := range states {
		st.CounterAdd(n, now)
	}
}

// CounterLog 记录计数器当前值（不重置）
func (r *Runtime) CounterLog(ip *IP) error {
	if ip == nil {
		return nilIP("dsui.CounterLog")
	}
	return r.emitSnapshots(ip)
}

// CounterReset 清零计数器
func (r *Runtime) CounterReset(ip *IP) {
	for _, st := range ip.States() {
		st.CounterReset()
	}
}

// IntervalStart 开始区间
func (r *Runtime) IntervalStart(ip *IP) {
	states := ip.States()
	if len(states) == 0 {
		return
	}
	now := clock.Now()
	for _, st := range states {
		st.IntervalStart(now)
	}
}

// IntervalEnd 结束区间并记录；没有打开的区间时不记录
func (r *Runtime) IntervalEnd(ip *IP) error {
	if ip == nil {
		return nilIP("dsui.IntervalEnd")
	}
	states := ip.States()
	if len(states) == 0 {
		return nil
	}
	now := clock.Now()
	var errs []error
	for _, st := range states {
		v, ok := st.IntervalEnd(now)
		if !ok {
			continue
		}
		if err := st.Stream().Emit(ip, uint32(core.KindInterval), v.Encode()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HistogramAdd 直方图记录样本
func (r *Runtime) HistogramAdd(ip *IP, v int64) {
	for _, st := range ip.States() {
		st.HistogramAdd(v)
	}
}

// HistogramLog 记录直方图当前值（调优中记录不修改状态的调优视图）
func (r *Runtime) HistogramLog(ip *IP) error {
	if ip == nil {
		return nilIP("dsui.HistogramLog")
	}
	return r.emitSnapshots(ip)
}

func (r *Runtime) emitSnapshots(ip *IP) error {
	var errs []error
	for _, st := range ip.States() {
		tag, payload, ok := st.Snapshot()
		if !ok {
			continue
		}
		if err := st.Stream().Emit(ip, tag, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ─── 统计 ───────────────────────────────────────────────────────────

// Stats 运行时统计快照
func (r *Runtime) Stats() core.Stats {
	r.mu.Lock()
	streams := make([]*stream.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	sinks := make([]*Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.mu.Unlock()

	st := core.Stats{
		IPs:     r.registry.Len(),
		Arena:   r.arena.Stats(),
		Streams: make([]core.StreamStats, 0, len(streams)),
		Writers: make([]core.WriterStats, 0, len(sinks)),
	}
	for _, s := range streams {
		st.Streams = append(st.Streams, s.Stats())
	}
	for _, s := range sinks {
		st.Writers = append(st.Writers, s.w.Stats())
	}
	sort.Slice(st.Streams, func(i, j int) bool { return st.Streams[i].ID < st.Streams[j].ID })
	sort.Slice(st.Writers, func(i, j int) bool { return st.Writers[i].Name < st.Writers[j].Name })
	return st
}

// ─── 配置文件 ───────────────────────────────────────────────────────

// Applied Apply 打开的对象（按配置中的名称）
type Applied struct {
	Sinks   map[string]*Sink
	Streams map[string]StreamID
}

// Apply 按配置打开 sink 与 stream 并启用埋点（runtime 段由 New 使用，这里忽略）
//
// 出错时已打开的对象保持打开，由 Shutdown 统一关闭。
func (r *Runtime) Apply(ctx context.Context, f *config.File) (*Applied, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := &Applied{
		Sinks:   make(map[string]*Sink, len(f.Sinks)),
		Streams: make(map[string]StreamID, len(f.Streams)),
	}
	for _, spec := range f.Sinks {
		var (
			s   *Sink
			err error
		)
		switch spec.Type {
		case config.SinkFile:
			s, err = r.OpenFileSink(spec.Path, spec.Compress)
		case config.SinkSocket:
			s, err = r.OpenSocketSink(ctx, spec.Host, spec.Port)
		}
		if err != nil {
			return out, fmt.Errorf("sink %q: %w", spec.Name, err)
		}
		out.Sinks[spec.Name] = s
	}
	for _, spec := range f.Streams {
		id, err := r.OpenStream(out.Sinks[spec.Sink], spec.Resolve(r.advisor))
		if err != nil {
			return out, fmt.Errorf("stream %q: %w", spec.Name, err)
		}
		out.Streams[spec.Name] = id
		for _, e := range spec.Enable {
			ip, err := r.CreateIP(e.Group, e.Name, e.Kind, e.Info)
			if err != nil {
				return out, fmt.Errorf("stream %q: %w", spec.Name, err)
			}
			if err := r.Enable(id, ip, e.Entity()); err != nil {
				return out, fmt.Errorf("stream %q: %w", spec.Name, err)
			}
		}
	}
	r.log.Info("configuration applied", "sinks", len(out.Sinks), "streams", len(out.Streams))
	return out, nil
}

// ─── 关闭 ───────────────────────────────────────────────────────────

// Shutdown 关闭全部 Stream 与 sink，并停止后台线程池（幂等）
//
// 各 Stream 并发关闭；等待写出的时限取 ctx 与 ShutdownTimeout 中较早者。
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	streams := make([]*stream.Stream, 0, len(r.streams))
	for id, s := range r.streams {
		streams = append(streams, s)
		delete(r.streams, id)
	}
	var handles []*writer.Handle
	for _, s := range r.sinks {
		if s.handle != nil {
			handles = append(handles, s.handle)
			s.handle = nil
		}
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.opts.ShutdownTimeout)
	defer cancel()

	var (
		errMu sync.Mutex
		errs  []error
	)
	collect := func(err error) error {
		if err != nil {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}
		return err
	}

	var g errgroup.Group
	for _, s := range streams {
		s := s
		g.Go(func() error { return collect(s.Close(ctx)) })
	}
	_ = g.Wait()
	for _, h := range handles {
		h := h
		g.Go(func() error { return collect(h.Release()) })
	}
	_ = g.Wait()

	if err := r.workers.ReleaseTimeout(r.opts.ShutdownTimeout); err != nil {
		r.log.Warn("worker pool did not stop in time", "error", err)
	}
	if r.collector != nil {
		r.registerer.Unregister(r.collector)
	}

	err := errors.Join(errs...)
	r.log.Info("runtime shut down", "streams", len(streams), "sinks", len(handles), "error", err)
	return err
}
