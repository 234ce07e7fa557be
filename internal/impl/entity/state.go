package entity

import (
	"sync"

	"github.com/uniyakcom/dsui/core"
)

// Emitter 接收实体输出的 Stream（由 stream 包实现）
type Emitter interface {
	ID() uint32
	Emit(ip *IP, tag uint32, payload []byte) error
	// Accepting 为 false 时 Stream 已进入关闭流程，不再接受新的启用
	Accepting() bool
}

// Config 启用实体时的配置
type Config struct {
	Histogram HistogramConfig
}

// State 一个 (IP, Stream) 对的可变状态
//
// 按 Kind 只有一个变体有效；多个应用线程可并发更新同一 State，
// 由 mu 保护。
type State struct {
	ip     *IP
	stream Emitter

	mu       sync.Mutex
	counter  core.CounterValue
	start    int64
	open     bool
	hist     *histogram
	disabled bool
}

func newState(ip *IP, s Emitter, cfg Config) (*State, error) {
	st := &State{ip: ip, stream: s}
	switch ip.Kind {
	case core.KindEvent, core.KindCounter, core.KindInterval:
	case core.KindHistogram:
		hc := cfg.Histogram
		if err := hc.Validate(); err != nil {
			return nil, err
		}
		st.hist = newHistogram(hc)
	default:
		return nil, core.Errorf("entity.Enable", core.ErrInvalidConfig, "kind %s", ip.Kind)
	}
	return st, nil
}

// IP 所属埋点
func (s *State) IP() *IP { return s.ip }

// Stream 所属 Stream
func (s *State) Stream() Emitter { return s.stream }

// ─── Counter ────────────────────────────────────────────────────────

// CounterAdd 累加计数器，now 为单调时间戳
func (s *State) CounterAdd(n, now int64) {
	s.mu.Lock()
	if !s.disabled {
		if s.counter.FirstUpdate == 0 {
			s.counter.FirstUpdate = now
		}
		s.counter.LastUpdate = now
		s.counter.Count += n
	}
	s.mu.Unlock()
}

// Counter 计数器当前值
func (s *State) Counter() core.CounterValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// CounterReset 清零并返回清零前的值
func (s *State) CounterReset() core.CounterValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.counter
	s.counter = core.CounterValue{}
	return v
}

// ─── Interval ───────────────────────────────────────────────────────

// IntervalStart 开始区间（已开始的区间被重新计时）
func (s *State) IntervalStart(now int64) {
	s.mu.Lock()
	if !s.disabled {
		s.start, s.open = now, true
	}
	s.mu.Unlock()
}

// IntervalEnd 结束区间；没有打开的区间时 ok=false
func (s *State) IntervalEnd(now int64) (v core.IntervalValue, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.disabled {
		return v, false
	}
	s.open = false
	return core.IntervalValue{Start: s.start, End: now}, true
}

// ─── Histogram ──────────────────────────────────────────────────────

// HistogramAdd 记录一个样本
func (s *State) HistogramAdd(v int64) {
	s.mu.Lock()
	if !s.disabled && s.hist != nil {
		s.hist.add(v)
	}
	s.mu.Unlock()
}

// Histogram 直方图快照（调优中返回不修改状态的调优视图）
func (s *State) Histogram() core.HistogramValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hist == nil {
		return core.HistogramValue{}
	}
	return s.hist.view()
}

// Pending 调优缓冲中的样本数
func (s *State) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hist == nil {
		return 0
	}
	return s.hist.pending()
}

// ─── 快照编码 ───────────────────────────────────────────────────────

// Snapshot 编码当前状态为记录负载（不重置）；无状态实体 ok=false
func (s *State) Snapshot() (tag uint32, payload []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() (uint32, []byte, bool) {
	switch s.ip.Kind {
	case core.KindCounter:
		return uint32(core.KindCounter), s.counter.Encode(), true
	case core.KindHistogram:
		v := s.hist.view()
		return uint32(core.KindHistogram), v.Encode(), true
	case core.KindInterval:
		if !s.open {
			return 0, nil, false
		}
		v := core.IntervalValue{Start: s.start}
		return uint32(core.KindInterval), v.Encode(), true
	}
	return 0, nil, false
}

// retire 标记禁用；调优未完成的直方图在此完成调优（释放调优缓冲）并返回需要输出的负载
func (s *State) retire(snapshot bool) (payload []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return nil, false
	}
	s.disabled = true
	if s.hist != nil && s.hist.pending() > 0 {
		s.hist.tune()
		v := s.hist.value()
		return v.Encode(), true
	}
	if !snapshot {
		return nil, false
	}
	_, p, ok := s.snapshotLocked()
	return p, ok
}
