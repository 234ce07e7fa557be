//go:build linux

package clock

import "golang.org/x/sys/unix"

// Now 单调时钟（ns）
func Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNow()
	}
	return ts.Nano()
}

// TID 当前 OS 线程 id
func TID() uint32 { return uint32(unix.Gettid()) }

// PID 进程 id
func PID() uint32 { return uint32(unix.Getpid()) }
