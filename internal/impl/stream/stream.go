// Package stream 提供 Stream：sink + 缓存 + 补充线程 + 过滤器的组合
//
// 两种缓冲模式:
//   - normal: buffer 写满即交给 Writer，后台 Replenisher 维持缓存水位
//   - ring:   固定 cacheSize 个 buffer 循环覆盖最旧数据，只在 trigger / Flush 时输出
//
// cacheSize == 0 时不缓冲，每次 Log 在 Writer 写锁内直接写出。
//
// 状态机: open → closing → closed（终态）。closing 期间实体被禁用并输出最终快照，
// closed 之后的 Log 返回 ErrClosed。
package stream

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/uniyakcom/dsui/core"
	"github.com/uniyakcom/dsui/internal/impl/entity"
	"github.com/uniyakcom/dsui/internal/impl/writer"
	"github.com/uniyakcom/dsui/internal/support/clock"
	"github.com/uniyakcom/dsui/internal/support/pool"
	"github.com/uniyakcom/dsui/internal/support/queue"
	"github.com/uniyakcom/dsui/util"
)

// Filter 事件过滤器
type Filter func(ip *entity.IP, tag uint32, payload []byte) bool

// Config Stream 配置
type Config struct {
	ID        uint32
	CacheSize int
	Mode      core.Mode

	Arena    *pool.Arena
	Handle   *writer.Handle
	Registry *entity.Registry
	Spawn    writer.Spawner // Replenisher 线程来源（nil 时使用 go 语句）
	Logger   *slog.Logger

	PreFilter Filter // 返回 false 的事件在缓冲前丢弃
	Trigger   Filter // 返回 true 时在记录写入后 flush
}

const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

// Stream 一个输出流
type Stream struct {
	id        uint32
	mode      core.Mode
	cacheSize int
	pageSize  int

	arena    *pool.Arena
	handle   *writer.Handle
	w        *writer.Writer
	registry *entity.Registry
	cache    *queue.Queue[*pool.Buffer]
	repl     *Replenisher
	log      *slog.Logger

	pre     Filter
	trigger Filter

	// gate: Log 持读锁；Close 持写锁切换到 closed，之后不再有进行中的 Log
	gate  sync.RWMutex
	state atomic.Int32

	ringMu sync.Mutex // ring 模式下序列化缓存轮转

	logged      *util.PerCPUCounter
	blocked     *util.PerCPUCounter
	filtered    *util.PerCPUCounter
	dropped     *util.PerCPUCounter
	overwritten atomic.Uint64
	triggers    atomic.Uint64
}

// Open 创建 Stream 并预填缓存
func Open(cfg Config) (*Stream, error) {
	const op = "stream.Open"
	switch {
	case cfg.Arena == nil || cfg.Handle == nil || cfg.Registry == nil:
		return nil, core.Errorf(op, core.ErrInvalidConfig, "arena, writer handle and registry are required")
	case cfg.CacheSize < 0:
		return nil, core.Errorf(op, core.ErrInvalidConfig, "cache_size %d < 0", cfg.CacheSize)
	case cfg.Mode != core.ModeNormal && cfg.Mode != core.ModeRing:
		return nil, core.Errorf(op, core.ErrInvalidConfig, "mode %s", cfg.Mode)
	case cfg.Mode == core.ModeRing && cfg.CacheSize == 0:
		return nil, core.Errorf(op, core.ErrInvalidConfig, "ring mode requires cache_size > 0")
	}
	w := cfg.Handle.Writer()
	if err := w.Err(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Stream{
		id:        cfg.ID,
		mode:      cfg.Mode,
		cacheSize: cfg.CacheSize,
		pageSize:  cfg.Arena.PageSize(),
		arena:     cfg.Arena,
		handle:    cfg.Handle,
		w:         w,
		registry:  cfg.Registry,
		log:       cfg.Logger.With("stream", cfg.ID),
		pre:       cfg.PreFilter,
		trigger:   cfg.Trigger,
		logged:    util.NewPerCPUCounter(),
		blocked:   util.NewPerCPUCounter(),
		filtered:  util.NewPerCPUCounter(),
		dropped:   util.NewPerCPUCounter(),
	}

	if s.cacheSize > 0 {
		s.cache = queue.New[*pool.Buffer](s.cacheSize)
		s.repl = NewReplenisher(s.arena, s.cache, s.cacheSize, s.log)
		if err := s.repl.Fill(s.cacheSize); err != nil {
			s.log.Warn("initial cache fill incomplete", "want", s.cacheSize, "have", s.cache.Len(), "error", err)
		}
		// ring 模式原地复用缓存，不需要后台补充
		if s.mode == core.ModeNormal {
			spawn := cfg.Spawn
			if spawn == nil {
				spawn = func(task func()) error {
					go task()
					return nil
				}
			}
			if err := s.repl.Start(spawn); err != nil {
				s.log.Warn("replenisher not started, refilling synchronously", "error", err)
			}
		}
	}

	s.log.Info("stream opened", "sink", w.Name(), "mode", s.mode, "cache_size", s.cacheSize)
	return s, nil
}

// ID Stream id
func (s *Stream) ID() uint32 { return s.id }

// Mode 缓冲模式
func (s *Stream) Mode() core.Mode { return s.mode }

// Writer 所用的 Writer
func (s *Stream) Writer() *writer.Writer { return s.w }

// Accepting 实现 entity.Emitter：Close 开始后即为 false
func (s *Stream) Accepting() bool { return s.state.Load() == stateOpen }

// Emit 实现 entity.Emitter
func (s *Stream) Emit(ip *entity.IP, tag uint32, payload []byte) error {
	return s.Log(ip, tag, payload)
}

// Log 记录一个事件
func (s *Stream) Log(ip *entity.IP, tag uint32, payload []byte) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.state.Load() == stateClosed {
		return core.Errorf("stream.Log", core.ErrClosed, "stream %d", s.id)
	}
	if s.pre != nil && !s.pre(ip, tag, payload) {
		s.filtered.Inc()
		return nil
	}

	h := core.Header{
		TimeStamp: uint64(clock.Now()),
		IPID:      ip.ID,
		Tag:       tag,
		PID:       clock.TID(),
		DataLen:   uint32(len(payload)),
	}

	var err error
	switch {
	case s.cacheSize == 0:
		err = s.logDirect(h, payload)
	case s.mode == core.ModeRing:
		err = s.logRing(h, payload)
	default:
		err = s.logNormal(h, payload)
	}
	if err != nil {
		s.dropped.Inc()
		if errors.Is(err, core.ErrAllocationExhausted) {
			s.log.Debug("event dropped", "ip", ip.String(), "error", err)
		}
		return err
	}
	s.logged.Inc()

	if s.trigger != nil && s.trigger(ip, tag, payload) {
		s.triggers.Add(1)
		s.drain()
	}
	return nil
}

// Stats 统计快照
func (s *Stream) Stats() core.StreamStats {
	st := core.StreamStats{
		ID:          s.id,
		Sink:        s.w.Name(),
		Mode:        s.mode,
		CacheSize:   s.cacheSize,
		Enabled:     len(s.registry.Enabled(s.id)),
		Logged:      s.logged.Read(),
		Blocked:     s.blocked.Read(),
		Filtered:    s.filtered.Read(),
		Dropped:     s.dropped.Read(),
		Overwritten: s.overwritten.Load(),
		Triggers:    s.triggers.Load(),
	}
	if s.cache != nil {
		st.Cached = s.cache.Len()
	}
	if s.repl != nil {
		st.Refilled = s.repl.Filled()
	}
	return st
}
