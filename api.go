// Package dsui 统一API入口：用户态埋点日志管道
//
// 应用注册轻量埋点（IP），按输出流（Stream）启用，然后在热路径上记录事件、
// 计数器、区间与直方图。记录先写入预分配的 buffer 缓存，写满后交给每个 sink
// 唯一的 Writer 串行写出；后台补充线程维持缓存水位，日志调用极少阻塞。
//
// 用法:
//
//	rt, _ := dsui.New()
//	defer rt.Shutdown(context.Background())
//
//	sink, _ := rt.OpenFileSink("/tmp/app.dsui", false)
//	id, _ := rt.OpenStream(sink, config.Stream{CacheSize: 4})
//	reqs, _ := rt.CreateIP("app", "requests", dsui.KindCounter, "")
//	_ = rt.Enable(id, reqs, config.Entity{})
//
//	rt.CounterAdd(reqs, 1)
package dsui

import (
	"context"
	"io"
	"sync"

	"github.com/uniyakcom/dsui/config"
	"github.com/uniyakcom/dsui/core"
	"github.com/uniyakcom/dsui/internal/impl/entity"
	"github.com/uniyakcom/dsui/internal/impl/stream"
)

// Kind 导出埋点类型
type Kind = core.Kind

// Mode 导出缓冲模式
type Mode = core.Mode

// IP 导出埋点身份
type IP = entity.IP

// Filter 导出事件过滤器
type Filter = stream.Filter

// Stats 导出运行时统计
type Stats = core.Stats

// Profile 导出预设场景
type Profile = config.Profile

// 埋点类型
const (
	KindEvent     = core.KindEvent
	KindCounter   = core.KindCounter
	KindInterval  = core.KindInterval
	KindHistogram = core.KindHistogram
)

// 缓冲模式
const (
	ModeNormal = core.ModeNormal
	ModeRing   = core.ModeRing
)

// 标准错误（errors.Is 匹配）
var (
	ErrAllocationExhausted = core.ErrAllocationExhausted
	ErrAlreadyEnabled      = core.ErrAlreadyEnabled
	ErrNotEnabled          = core.ErrNotEnabled
	ErrUnknownStream       = core.ErrUnknownStream
	ErrUnknownIP           = core.ErrUnknownIP
	ErrUnknownSink         = core.ErrUnknownSink
	ErrInvalidConfig       = core.ErrInvalidConfig
	ErrKindMismatch        = core.ErrKindMismatch
	ErrSinkWriteFailed     = core.ErrSinkWriteFailed
	ErrClosed              = core.ErrClosed
)

// ═══════════════════════════════════════════════════════════════════
// 配置文件入口
// ═══════════════════════════════════════════════════════════════════

// FromFile 读取 YAML 配置，按 runtime 段创建 Runtime 并打开其中的 sink / stream
//
// opts 在配置文件之后应用，可覆盖 runtime 段。
func FromFile(ctx context.Context, path string, opts ...Option) (*Runtime, *Applied, error) {
	f, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	rt, err := New(append([]Option{WithOptions(f.Runtime)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	applied, err := rt.Apply(ctx, f)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, nil, err
	}
	return rt, applied, nil
}

// ═══════════════════════════════════════════════════════════════════
// 包级便捷 API（默认 Runtime，首次使用时创建）
// ═══════════════════════════════════════════════════════════════════

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
)

// Default 返回包级默认 Runtime（默认选项，首次调用时创建）
func Default() *Runtime {
	defaultOnce.Do(func() {
		rt, err := New()
		if err != nil {
			panic("dsui: failed to init default runtime: " + err.Error())
		}
		defaultRT = rt
	})
	return defaultRT
}

// CreateIP 在默认 Runtime 上注册埋点
func CreateIP(group, name string, kind Kind, info string) (*IP, error) {
	return Default().CreateIP(group, name, kind, info)
}

// LookupIP 在默认 Runtime 上查找埋点
func LookupIP(group, name string) (*IP, bool) {
	return Default().LookupIP(group, name)
}

// OpenFileSink 在默认 Runtime 上打开文件 sink
func OpenFileSink(path string, compress bool) (*Sink, error) {
	return Default().OpenFileSink(path, compress)
}

// OpenSocketSink 在默认 Runtime 上连接 TCP sink
func OpenSocketSink(ctx context.Context, host string, port int) (*Sink, error) {
	return Default().OpenSocketSink(ctx, host, port)
}

// OpenWriterSink 在默认 Runtime 上以 io.WriteCloser 作为 sink
func OpenWriterSink(name string, wc io.WriteCloser) (*Sink, error) {
	return Default().OpenWriterSink(name, wc)
}

// OpenStream 在默认 Runtime 上打开 Stream
func OpenStream(sink *Sink, cfg config.Stream, opts ...StreamOption) (StreamID, error) {
	return Default().OpenStream(sink, cfg, opts...)
}

// CloseStream 关闭默认 Runtime 上的 Stream
func CloseStream(ctx context.Context, id StreamID) error {
	return Default().CloseStream(ctx, id)
}

// Enable 在默认 Runtime 的 Stream 上启用埋点
func Enable(id StreamID, ip *IP, cfg config.Entity) error {
	return Default().Enable(id, ip, cfg)
}

// Disable 在默认 Runtime 的 Stream 上禁用埋点
func Disable(id StreamID, ip *IP) error {
	return Default().Disable(id, ip)
}

// LogEvent 记录事件
func LogEvent(ip *IP, tag uint32, payload []byte) error {
	return Default().LogEvent(ip, tag, payload)
}

// CounterAdd 计数器累加
func CounterAdd(ip *IP, n int64) { Default().CounterAdd(ip, n) }

// CounterLog 记录计数器当前值
func CounterLog(ip *IP) error { return Default().CounterLog(ip) }

// CounterReset 清零计数器
func CounterReset(ip *IP) { Default().CounterReset(ip) }

// IntervalStart 开始区间
func IntervalStart(ip *IP) { Default().IntervalStart(ip) }

// IntervalEnd 结束区间并记录
func IntervalEnd(ip *IP) error { return Default().IntervalEnd(ip) }

// HistogramAdd 直方图记录样本
func HistogramAdd(ip *IP, v int64) { Default().HistogramAdd(ip, v) }

// HistogramLog 记录直方图当前值
func HistogramLog(ip *IP) error { return Default().HistogramLog(ip) }

// Flush 刷新默认 Runtime 上的 Stream
func Flush(ctx context.Context, id StreamID) error {
	return Default().Flush(ctx, id)
}

// Snapshot 为默认 Runtime 上 Stream 的有状态实体记录当前值
func Snapshot(id StreamID) error { return Default().Snapshot(id) }

// Shutdown 关闭默认 Runtime
// 注意: 关闭后包级 API 返回 ErrClosed，通常仅在进程退出前调用。
func Shutdown(ctx context.Context) error {
	return Default().Shutdown(ctx)
}
