// Package clock 提供记录时间戳与线程标识
//
// 时间戳取单调时钟（ns），与文件头中的 (wall_ns, mono_ns) 校准记录配合，
// 下游可换算为 wall clock。Linux 上直接读取 CLOCK_MONOTONIC 并以 gettid 作为 pid 字段，
// 与内核侧 tracer 的时基一致；其他平台退化为 time 包与进程 id。
package clock

import "time"

// Calibration 时钟校准记录
type Calibration struct {
	WallNS int64
	MonoNS int64
}

// Calibrate 在同一时刻采样 wall clock 与单调时钟
func Calibrate() Calibration {
	mono := Now()
	wall := time.Now().UnixNano()
	return Calibration{WallNS: wall, MonoNS: mono}
}

// Wall 把单调时间戳换算为 wall clock
func (c Calibration) Wall(mono int64) time.Time {
	return time.Unix(0, c.WallNS+(mono-c.MonoNS))
}
