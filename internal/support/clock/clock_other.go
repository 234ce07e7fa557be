//go:build !linux

package clock

import "os"

// Now 单调时钟（ns）
func Now() int64 { return fallbackNow() }

// TID 非 Linux 平台没有廉价的线程 id，使用进程 id
func TID() uint32 { return uint32(os.Getpid()) }

// PID 进程 id
func PID() uint32 { return uint32(os.Getpid()) }
