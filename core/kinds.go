// Package core 提供 dsui 日志管道的核心类型定义
//
// 包含埋点类型（Kind）、缓冲模式（Mode）、记录二进制布局、错误类型与运行时统计。
// 该包不依赖任何内部实现，供 runtime / stream / writer / reader 共享。
package core

import (
	"fmt"
	"strings"
)

// Kind 埋点（Instrumentation Point）类型
type Kind uint8

const (
	KindEvent     Kind = iota + 1 // 普通事件：每次调用产生一条记录
	KindCounter                   // 计数器：累加，Log 时输出当前值
	KindInterval                  // 区间：Start/End 成对，End 时输出一条记录
	KindHistogram                 // 直方图：支持自动调优上下界
)

// String 返回 Kind 名称
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindCounter:
		return "counter"
	case KindInterval:
		return "interval"
	case KindHistogram:
		return "histogram"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Stateful 是否为需要 per-stream 状态的类型
func (k Kind) Stateful() bool {
	return k == KindCounter || k == KindInterval || k == KindHistogram
}

// ParseKind 从字符串解析 Kind（大小写不敏感）
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "event", "":
		return KindEvent, nil
	case "counter":
		return KindCounter, nil
	case "interval":
		return KindInterval, nil
	case "histogram":
		return KindHistogram, nil
	}
	return 0, Errorf("core.ParseKind", ErrInvalidConfig, "unknown kind %q", s)
}

// Mode Stream 缓冲模式
type Mode uint8

const (
	// ModeNormal 写满即交给 Writer（flush-on-full），由后台线程补充缓存
	ModeNormal Mode = iota
	// ModeRing 环形覆盖最旧数据，仅在触发（trigger / Flush）时输出
	ModeRing
)

// String 返回 Mode 名称
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRing:
		return "ring"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode 从字符串解析 Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "":
		return ModeNormal, nil
	case "ring":
		return ModeRing, nil
	}
	return 0, Errorf("core.ParseMode", ErrInvalidConfig, "unknown mode %q", s)
}

// MarshalText 实现 encoding.TextMarshaler（YAML 配置使用）
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText 实现 encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalText 实现 encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
