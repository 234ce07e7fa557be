package entity

import (
	"math"

	"github.com/uniyakcom/dsui/core"
)

const (
	// DefaultBuckets 未指定桶数时的默认值
	DefaultBuckets = 20
	// MaxBuckets 桶数上限
	MaxBuckets = 4096
	// MaxTuneAmount 调优样本数上限
	MaxTuneAmount = 1 << 16
)

// HistogramConfig 直方图配置
//
// TuneAmount > 0 时先缓存这么多原始样本，再由观测到的 min/max 推导上下界；
// 此时 LowerBound/UpperBound 被忽略。
type HistogramConfig struct {
	LowerBound int64
	UpperBound int64
	Buckets    int
	TuneAmount int
}

// Validate 校验配置；Buckets 为 0 时取默认值
func (c *HistogramConfig) Validate() error {
	const op = "entity.HistogramConfig"
	if c.Buckets == 0 {
		c.Buckets = DefaultBuckets
	}
	if c.Buckets < 0 || c.Buckets > MaxBuckets {
		return core.Errorf(op, core.ErrInvalidConfig, "buckets %d not in [1, %d]", c.Buckets, MaxBuckets)
	}
	if c.TuneAmount < 0 || c.TuneAmount > MaxTuneAmount {
		return core.Errorf(op, core.ErrInvalidConfig, "tune_amount %d not in [0, %d]", c.TuneAmount, MaxTuneAmount)
	}
	if c.TuneAmount == 0 && c.UpperBound <= c.LowerBound {
		return core.Errorf(op, core.ErrInvalidConfig, "upperbound %d <= lowerbound %d", c.UpperBound, c.LowerBound)
	}
	return nil
}

// histogram 直方图状态（由 State.mu 保护）
type histogram struct {
	lower, upper int64
	width        uint64 // 可能超过 MaxInt64（全 int64 范围、单桶）
	buckets             []uint64

	min, max, sum int64
	count         uint64
	under, over   uint64

	tuneAmount int
	tuning     []int64 // 非 nil 表示仍在调优；调优完成后永久为 nil
}

func newHistogram(cfg HistogramConfig) *histogram {
	h := &histogram{
		lower:      cfg.LowerBound,
		upper:      cfg.UpperBound,
		buckets:    make([]uint64, cfg.Buckets),
		tuneAmount: cfg.TuneAmount,
	}
	if cfg.TuneAmount > 0 {
		h.tuning = make([]int64, 0, cfg.TuneAmount)
	}
	if h.upper > h.lower {
		h.width = bucketWidth(uint64(h.upper)-uint64(h.lower)-1, len(h.buckets))
	} else {
		h.width = 1
	}
	return h
}

// bucketWidth 覆盖偏移 [0, last] 的桶宽：ceil((last+1)/n) = last/n + 1
//
// 以无符号偏移计算，last+1 在全 int64 范围时不会溢出。
func bucketWidth(last uint64, n int) uint64 {
	if n <= 0 {
		return 1
	}
	return last/uint64(n) + 1
}

func (h *histogram) add(v int64) {
	if h.count == 0 || v < h.min {
		h.min = v
	}
	if h.count == 0 || v > h.max {
		h.max = v
	}
	h.count++
	h.sum += v

	if h.tuning != nil {
		h.tuning = append(h.tuning, v)
		if len(h.tuning) >= h.tuneAmount {
			h.tune()
		}
		return
	}
	h.bucket(v)
}

// bucket 标准桶累加：低于下界计 underflow，桶号越界计 overflow
func (h *histogram) bucket(v int64) {
	if v < h.lower {
		h.under++
		return
	}
	idx := (uint64(v) - uint64(h.lower)) / h.width
	if idx >= uint64(len(h.buckets)) {
		h.over++
		return
	}
	h.buckets[idx]++
}

// tune 以观测到的 min/max 定界，并把缓存样本恰好重放一次
func (h *histogram) tune() {
	if h.tuning == nil {
		return
	}
	if len(h.tuning) > 0 {
		h.lower = h.min
		h.upper = h.max
		if h.upper < math.MaxInt64 {
			h.upper++
		}
		h.width = bucketWidth(uint64(h.max)-uint64(h.min), len(h.buckets))
	}
	samples := h.tuning
	h.tuning = nil
	for _, v := range samples {
		h.bucket(v)
	}
}

// pending 调优缓冲中的样本数
func (h *histogram) pending() int { return len(h.tuning) }

func (h *histogram) value() core.HistogramValue {
	return core.HistogramValue{
		LowerBound: h.lower,
		UpperBound: h.upper,
		Width:      int64(min(h.width, math.MaxInt64)),
		Min:        h.min,
		Max:        h.max,
		Sum:        h.sum,
		Count:      h.count,
		Underflow:  h.under,
		Overflow:   h.over,
		Pending:    uint32(len(h.tuning)),
		Buckets:    append([]uint64(nil), h.buckets...),
	}
}

// view 快照：调优未完成时返回在副本上调优后的结果，不修改自身
func (h *histogram) view() core.HistogramValue {
	if h.tuning == nil {
		return h.value()
	}
	cp := *h
	cp.buckets = append([]uint64(nil), h.buckets...)
	pending := len(h.tuning)
	cp.tuning = append([]int64(nil), h.tuning...)
	cp.tune()
	v := cp.value()
	v.Pending = uint32(pending)
	return v
}
