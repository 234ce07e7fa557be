package config

import (
	"time"

	"github.com/uniyakcom/dsui/core"
)

// Profile 负载场景描述，用于推导 Stream 缓冲配置
type Profile struct {
	Name      string        // 场景名称
	Rate      int           // 预期事件速率（events/s）
	EventSize int           // 平均负载字节数
	Latency   time.Duration // 可接受的缓冲延迟（数据在缓存中停留的上限）
	Mode      core.Mode     // 缓冲模式
	Depth     int           // ring 模式保留的 buffer 数
}

// ═══════════════════════════════════════════════════════════════════
// 三个预设
// ═══════════════════════════════════════════════════════════════════

// Normal 常规追踪：写满即输出，后台补充缓存
func Normal() *Profile {
	return &Profile{
		Name:      "normal",
		Rate:      100000,
		EventSize: 32,
		Latency:   10 * time.Millisecond,
		Mode:      core.ModeNormal,
	}
}

// Ring 飞行记录器：只保留最近的数据，由 trigger 或 Flush 输出
func Ring() *Profile {
	return &Profile{
		Name:      "ring",
		Rate:      100000,
		EventSize: 32,
		Mode:      core.ModeRing,
		Depth:     16,
	}
}

// Direct 不缓冲：每条记录在 Writer 锁内直接写出（最低延迟，无批量）
func Direct() *Profile {
	return &Profile{
		Name:      "direct",
		Rate:      1000,
		EventSize: 32,
		Mode:      core.ModeNormal,
	}
}

// Presets 所有预设场景
var Presets = map[string]func() *Profile{
	"normal": Normal,
	"ring":   Ring,
	"direct": Direct,
}

// Preset 获取预设（每次返回新副本）；未知名称返回 Normal
func Preset(name string) *Profile {
	if f, ok := Presets[name]; ok {
		return f()
	}
	return Normal()
}

// ═══════════════════════════════════════════════════════════════════
// 推荐
// ═══════════════════════════════════════════════════════════════════

const (
	minCache = 2
	maxCache = 1024
)

// Advisor 根据 Profile 与页大小推荐 Stream 配置
type Advisor struct {
	PageSize int
}

// NewAdvisor 创建推荐引擎
func NewAdvisor(pageSize int) *Advisor {
	return &Advisor{PageSize: pageSize}
}

// Advise 推荐 Stream 配置
//
//   - direct: cache_size = 0
//   - ring:   cache_size = Depth（至少 1）
//   - normal: 缓存覆盖 Latency 时间内产生的数据量，夹在 [2, 1024]
func (a *Advisor) Advise(p *Profile) Stream {
	if p == nil {
		p = Normal()
	}
	if p.Name == "direct" {
		return Stream{CacheSize: 0, Mode: core.ModeNormal}
	}
	if p.Mode == core.ModeRing {
		return Stream{CacheSize: max(p.Depth, 1), Mode: core.ModeRing}
	}

	page := a.PageSize
	if page <= 0 {
		page = DefaultOptions().PageSize
	}
	perRecord := core.HeaderSize + p.EventSize
	bytes := float64(p.Rate) * p.Latency.Seconds() * float64(perRecord)
	n := int(bytes/float64(page)) + 1
	return Stream{CacheSize: min(max(n, minCache), maxCache), Mode: core.ModeNormal}
}
