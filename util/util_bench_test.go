package util

import (
	"sync/atomic"
	"testing"
)

// BenchmarkCounterContention 多个日志线程同时累加 log_count
func BenchmarkCounterContention(b *testing.B) {
	b.Run("PerCPU", func(b *testing.B) {
		c := NewPerCPUCounter()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				c.Inc()
			}
		})
	})
	b.Run("SingleAtomic", func(b *testing.B) {
		var c atomic.Int64
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				c.Add(1)
			}
		})
	})
}

// BenchmarkCounterRead Stats 读取路径
func BenchmarkCounterRead(b *testing.B) {
	c := NewPerCPUCounter()
	for i := 0; i < 1000; i++ {
		c.Inc()
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Read()
	}
}
