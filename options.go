package dsui

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uniyakcom/dsui/config"
)

// Option Runtime 构造选项
type Option func(*settings)

type settings struct {
	opts       config.Options
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// WithLogger 指定日志（默认 slog.Default()）
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithOptions 整体替换运行时选项（零值字段取默认值）
func WithOptions(o config.Options) Option {
	return func(s *settings) { s.opts = o }
}

// WithArena 设置 buffer arena：页大小、初始页数、页数上限（0=不限）
func WithArena(pageSize, initialPages, maxPages int) Option {
	return func(s *settings) {
		s.opts.PageSize = pageSize
		s.opts.InitialPages = initialPages
		s.opts.MaxPages = maxPages
	}
}

// WithWorkers 后台线程池大小（0=不限）
//
// 每个 sink 的 Writer 与每个 normal 模式 Stream 的补充线程各占一个 worker；
// 池满时 Writer 退化为关闭时同步写出，补充线程退化为日志路径上的同步补充。
func WithWorkers(n int) Option {
	return func(s *settings) { s.opts.Workers = n }
}

// WithRegisterer 把运行时统计注册为 Prometheus 指标
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// StreamOption OpenStream 选项
type StreamOption func(*streamSettings)

type streamSettings struct {
	pre     Filter
	trigger Filter
}

// WithPreFilter 返回 false 的事件在缓冲前丢弃
func WithPreFilter(f Filter) StreamOption {
	return func(s *streamSettings) { s.pre = f }
}

// WithTrigger 返回 true 的事件写入后立即 flush（ring 模式的外部触发）
func WithTrigger(f Filter) StreamOption {
	return func(s *streamSettings) { s.trigger = f }
}
