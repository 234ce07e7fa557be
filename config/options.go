// Package config 提供运行时与 Stream 配置、预设场景与 YAML 加载
package config

import (
	"time"

	"github.com/uniyakcom/dsui/core"
	"github.com/uniyakcom/dsui/internal/impl/entity"
	"github.com/uniyakcom/dsui/internal/support/pool"
)

// DefaultShutdownTimeout Shutdown 等待 Writer 写出的默认时限
const DefaultShutdownTimeout = 10 * time.Second

// Options 运行时选项
type Options struct {
	PageSize        int           `yaml:"page_size"`        // buffer 页大小（字节）
	InitialPages    int           `yaml:"initial_pages"`    // Arena 初始页数
	MaxPages        int           `yaml:"max_pages"`        // Arena 页数上限（0=不限）
	Workers         int           `yaml:"workers"`          // 后台线程池大小（0=不限）
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Shutdown 时限
}

// DefaultOptions 默认运行时选项
func DefaultOptions() Options {
	return Options{
		PageSize:        pool.DefaultPageSize,
		InitialPages:    pool.DefaultInitialPages,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// withDefaults 零值字段取默认值
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSize == 0 {
		o.PageSize = d.PageSize
	}
	if o.InitialPages == 0 {
		o.InitialPages = d.InitialPages
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
	return o
}

// Validate 校验并补全默认值
func (o *Options) Validate() error {
	const op = "config.Options"
	*o = o.withDefaults()
	switch {
	case o.PageSize < pool.MinPageSize:
		return core.Errorf(op, core.ErrInvalidConfig, "page_size %d < %d", o.PageSize, pool.MinPageSize)
	case o.InitialPages < 0, o.MaxPages < 0:
		return core.Errorf(op, core.ErrInvalidConfig, "negative page count")
	case o.MaxPages > 0 && o.MaxPages < o.InitialPages:
		return core.Errorf(op, core.ErrInvalidConfig, "max_pages %d < initial_pages %d", o.MaxPages, o.InitialPages)
	case o.Workers < 0:
		return core.Errorf(op, core.ErrInvalidConfig, "workers %d < 0", o.Workers)
	case o.ShutdownTimeout < 0:
		return core.Errorf(op, core.ErrInvalidConfig, "negative shutdown_timeout")
	}
	return nil
}

// Arena 对应的 Arena 配置
func (o Options) Arena() pool.Config {
	return pool.Config{PageSize: o.PageSize, InitialPages: o.InitialPages, MaxPages: o.MaxPages}
}

// Stream 一个 Stream 的缓冲配置
type Stream struct {
	CacheSize int       `yaml:"cache_size"` // 0 = 不缓冲，直接写出
	Mode      core.Mode `yaml:"mode"`
}

// Validate 校验
func (s Stream) Validate() error {
	const op = "config.Stream"
	if s.CacheSize < 0 {
		return core.Errorf(op, core.ErrInvalidConfig, "cache_size %d < 0", s.CacheSize)
	}
	if s.Mode == core.ModeRing && s.CacheSize == 0 {
		return core.Errorf(op, core.ErrInvalidConfig, "ring mode requires cache_size > 0")
	}
	return nil
}

// Histogram 直方图配置
type Histogram struct {
	LowerBound int64 `yaml:"lowerbound"`
	UpperBound int64 `yaml:"upperbound"`
	Buckets    int   `yaml:"buckets"`
	TuneAmount int   `yaml:"tune_amount"`
}

// Entity 启用实体时使用的配置
type Entity struct {
	Histogram Histogram `yaml:"histogram"`
}

// State 转换为实体状态配置
func (e Entity) State() entity.Config {
	h := e.Histogram
	return entity.Config{Histogram: entity.HistogramConfig{
		LowerBound: h.LowerBound,
		UpperBound: h.UpperBound,
		Buckets:    h.Buckets,
		TuneAmount: h.TuneAmount,
	}}
}
