package core

import "encoding/binary"

// 有状态记录的负载编码。记录头的 event_tag 为对应的 Kind。

// CounterValue 计数器快照
type CounterValue struct {
	Count       int64
	FirstUpdate int64 // 首次更新时间戳（单调 ns），0 表示从未更新
	LastUpdate  int64
}

// CounterPayloadSize 计数器负载长度
const CounterPayloadSize = 24

// Encode 编码计数器负载
func (c CounterValue) Encode() []byte {
	b := make([]byte, CounterPayloadSize)
	binary.LittleEndian.PutUint64(b[0:], uint64(c.Count))
	binary.LittleEndian.PutUint64(b[8:], uint64(c.FirstUpdate))
	binary.LittleEndian.PutUint64(b[16:], uint64(c.LastUpdate))
	return b
}

// DecodeCounter 解码计数器负载
func DecodeCounter(b []byte) (CounterValue, error) {
	if len(b) < CounterPayloadSize {
		return CounterValue{}, Errorf("core.DecodeCounter", ErrInvalidConfig, "short payload: %d", len(b))
	}
	return CounterValue{
		Count:       int64(binary.LittleEndian.Uint64(b[0:])),
		FirstUpdate: int64(binary.LittleEndian.Uint64(b[8:])),
		LastUpdate:  int64(binary.LittleEndian.Uint64(b[16:])),
	}, nil
}

// IntervalValue 区间记录
type IntervalValue struct {
	Start int64
	End   int64
}

// IntervalPayloadSize 区间负载长度
const IntervalPayloadSize = 16

// Encode 编码区间负载
func (v IntervalValue) Encode() []byte {
	b := make([]byte, IntervalPayloadSize)
	binary.LittleEndian.PutUint64(b[0:], uint64(v.Start))
	binary.LittleEndian.PutUint64(b[8:], uint64(v.End))
	return b
}

// DecodeInterval 解码区间负载
func DecodeInterval(b []byte) (IntervalValue, error) {
	if len(b) < IntervalPayloadSize {
		return IntervalValue{}, Errorf("core.DecodeInterval", ErrInvalidConfig, "short payload: %d", len(b))
	}
	return IntervalValue{
		Start: int64(binary.LittleEndian.Uint64(b[0:])),
		End:   int64(binary.LittleEndian.Uint64(b[8:])),
	}, nil
}

// HistogramValue 直方图快照
type HistogramValue struct {
	LowerBound int64
	UpperBound int64
	Width      int64
	Min        int64
	Max        int64
	Sum        int64
	Count      uint64 // 样本总数
	Underflow  uint64
	Overflow   uint64
	Pending    uint32 // 快照时仍处于调优缓冲的样本数（仅供诊断）
	Buckets    []uint64
}

// histogramFixed 固定字段长度：6*i64 + 3*u64 + 2*u32
const histogramFixed = 6*8 + 3*8 + 2*4

// Encode 编码直方图负载
func (h *HistogramValue) Encode() []byte {
	b := make([]byte, histogramFixed+8*len(h.Buckets))
	le := binary.LittleEndian
	le.PutUint64(b[0:], uint64(h.LowerBound))
	le.PutUint64(b[8:], uint64(h.UpperBound))
	le.PutUint64(b[16:], uint64(h.Width))
	le.PutUint64(b[24:], uint64(h.Min))
	le.PutUint64(b[32:], uint64(h.Max))
	le.PutUint64(b[40:], uint64(h.Sum))
	le.PutUint64(b[48:], h.Count)
	le.PutUint64(b[56:], h.Underflow)
	le.PutUint64(b[64:], h.Overflow)
	le.PutUint32(b[72:], uint32(len(h.Buckets)))
	le.PutUint32(b[76:], h.Pending)
	off := histogramFixed
	for _, c := range h.Buckets {
		le.PutUint64(b[off:], c)
		off += 8
	}
	return b
}

// DecodeHistogram 解码直方图负载
func DecodeHistogram(b []byte) (HistogramValue, error) {
	var h HistogramValue
	if len(b) < histogramFixed {
		return h, Errorf("core.DecodeHistogram", ErrInvalidConfig, "short payload: %d", len(b))
	}
	le := binary.LittleEndian
	h.LowerBound = int64(le.Uint64(b[0:]))
	h.UpperBound = int64(le.Uint64(b[8:]))
	h.Width = int64(le.Uint64(b[16:]))
	h.Min = int64(le.Uint64(b[24:]))
	h.Max = int64(le.Uint64(b[32:]))
	h.Sum = int64(le.Uint64(b[40:]))
	h.Count = le.Uint64(b[48:])
	h.Underflow = le.Uint64(b[56:])
	h.Overflow = le.Uint64(b[64:])
	n := int(le.Uint32(b[72:]))
	h.Pending = le.Uint32(b[76:])
	if len(b) < histogramFixed+8*n {
		return h, Errorf("core.DecodeHistogram", ErrInvalidConfig, "truncated buckets: want %d", n)
	}
	h.Buckets = make([]uint64, n)
	off := histogramFixed
	for i := range h.Buckets {
		h.Buckets[i] = le.Uint64(b[off:])
		off += 8
	}
	return h, nil
}

// Bucketed 已落入桶（含 underflow/overflow）的样本数
func (h *HistogramValue) Bucketed() uint64 {
	n := h.Underflow + h.Overflow
	for _, c := range h.Buckets {
		n += c
	}
	return n
}
