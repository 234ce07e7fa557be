package clock

import "time"

var epoch = time.Now()

// fallbackNow 基于 time 包单调读数的时间戳
func fallbackNow() int64 { return int64(time.Since(epoch)) + 1 }
