// Package util 提供日志管道共用的小工具
package util

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// maxSlots 最大 slot 数量（覆盖常见 GOMAXPROCS）
const maxSlots = 256

// PerCPUCounter 分散写入的诊断计数器
//
// log_count / block_count 等计数在每次 log 调用上累加，多个应用线程同时写同一个
// atomic 会造成 cache line 争用；这里按 goroutine 栈地址哈希到独立 cache line，
// 读取时求和。读到的是近似快照，不与写入互斥。
type PerCPUCounter struct {
	counters [maxSlots]counterSlot
	mask     int
}

type counterSlot struct {
	count atomic.Int64
	_     [56]byte // cache line padding
}

// NewPerCPUCounter 创建计数器，slot 数取 GOMAXPROCS 向上 2 的幂（最少 8）
func NewPerCPUCounter() *PerCPUCounter {
	sz := NextPow2(runtime.GOMAXPROCS(0))
	if sz < 8 {
		sz = 8
	}
	if sz > maxSlots {
		sz = maxSlots
	}
	return &PerCPUCounter{mask: sz - 1}
}

// Add 累加 delta
//
//go:nosplit
func (c *PerCPUCounter) Add(delta int64) {
	var x uintptr
	// goroutine 最小栈 8KB = 2^13
	id := int(uintptr(unsafe.Pointer(&x)) >> 13)
	c.counters[id&c.mask].count.Add(delta)
}

// Inc 加一
func (c *PerCPUCounter) Inc() { c.Add(1) }

// Read 读取所有 slot 的累计值
func (c *PerCPUCounter) Read() int64 {
	var sum int64
	for i := 0; i <= c.mask; i++ {
		sum += c.counters[i].count.Load()
	}
	return sum
}

// NextPow2 不小于 n 的最小 2 的幂（n <= 1 时返回 1）
func NextPow2(n int) int {
	sz := 1
	for sz < n {
		sz <<= 1
	}
	return sz
}
