// Package pool 提供固定大小页的 buffer arena
//
// 设计：
//   - Arena 持有 N 个固定大小的页（slab 连续分配，页永不移动，扩容只追加）
//   - 空闲页由单链表 free-list 管理（next 索引数组），Acquire/Release 均为 O(1)
//   - free-list 为空时容量翻倍；达到 MaxPages 返回 ErrAllocationExhausted，不 panic
//   - 每个页对应一个常驻 *Buffer 视图，借出/归还只切换所有权标记
package pool

import (
	"sync"

	"github.com/uniyakcom/dsui/core"
)

const (
	// DefaultPageSize 默认页大小（32 KiB）
	DefaultPageSize = 32 * 1024
	// DefaultInitialPages 默认初始页数
	DefaultInitialPages = 64
	// MinPageSize 最小页大小：至少容纳一条记录头 + 分片头 + 1 字节
	MinPageSize = core.HeaderSize + core.ChunkHeaderSize + 1

	nilPage = int32(-1)
)

// Config Arena 配置
type Config struct {
	PageSize     int // 单页字节数（0=DefaultPageSize）
	InitialPages int // 初始页数（0=DefaultInitialPages）
	MaxPages     int // 页数上限（0=不限）
}

// Arena 固定页 buffer 池（并发安全）
type Arena struct {
	mu       sync.Mutex
	pageSize int
	maxPages int

	slabs [][]byte  // 每次扩容一块连续内存
	bufs  []*Buffer // 页索引 → Buffer 视图
	next  []int32   // free-list 链接
	head  int32     // free-list 头（nilPage=空）
	free  int

	expansions  uint64
	exhausted   uint64
	badReleases uint64
}

// New 创建 Arena
func New(cfg Config) (*Arena, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.InitialPages == 0 {
		cfg.InitialPages = DefaultInitialPages
	}
	if cfg.PageSize < MinPageSize {
		return nil, core.Errorf("pool.New", core.ErrInvalidConfig, "page size %d < %d", cfg.PageSize, MinPageSize)
	}
	if cfg.InitialPages < 0 || cfg.MaxPages < 0 {
		return nil, core.Errorf("pool.New", core.ErrInvalidConfig, "negative page count")
	}
	if cfg.MaxPages > 0 && cfg.InitialPages > cfg.MaxPages {
		cfg.InitialPages = cfg.MaxPages
	}
	a := &Arena{
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		head:     nilPage,
	}
	a.grow(cfg.InitialPages)
	return a, nil
}

// grow 追加 n 个页并链入 free-list（调用方持有 mu）
func (a *Arena) grow(n int) {
	if n <= 0 {
		return
	}
	slab := make([]byte, n*a.pageSize)
	a.slabs = append(a.slabs, slab)
	base := len(a.bufs)
	for i := 0; i < n; i++ {
		off := i * a.pageSize
		a.bufs = append(a.bufs, &Buffer{
			arena: a,
			page:  int32(base + i),
			data:  slab[off : off+a.pageSize : off+a.pageSize],
		})
		a.next = append(a.next, nilPage)
	}
	// 逆序压栈，使低索引页先被取出
	for i := base + n - 1; i >= base; i-- {
		a.next[i] = a.head
		a.head = int32(i)
	}
	a.free += n
}

// Acquire 借出一个空 Buffer
// free-list 为空时容量翻倍；达到上限返回 ErrAllocationExhausted
func (a *Arena) Acquire() (*Buffer, error) {
	a.mu.Lock()
	if a.head == nilPage {
		n := len(a.bufs)
		if n == 0 {
			n = 1
		}
		if a.maxPages > 0 && len(a.bufs)+n > a.maxPages {
			n = a.maxPages - len(a.bufs)
		}
		if n <= 0 {
			a.exhausted++
			a.mu.Unlock()
			return nil, core.Errorf("pool.Acquire", core.ErrAllocationExhausted, "%d pages in use", len(a.bufs))
		}
		a.grow(n)
		a.expansions++
	}
	idx := a.head
	a.head = a.next[idx]
	a.next[idx] = nilPage
	a.free--
	b := a.bufs[idx]
	b.out = true
	b.w, b.r = 0, 0
	a.mu.Unlock()
	return b, nil
}

// Release 归还 Buffer。重复归还或归还他人的 Buffer 会被忽略并计数。
func (a *Arena) Release(b *Buffer) {
	if b == nil {
		return
	}
	a.mu.Lock()
	if b.arena != a || !b.out {
		a.badReleases++
		a.mu.Unlock()
		return
	}
	b.out = false
	b.w, b.r = 0, 0
	a.next[b.page] = a.head
	a.head = b.page
	a.free++
	a.mu.Unlock()
}

// PageSize 单页字节数
func (a *Arena) PageSize() int { return a.pageSize }

// Stats 返回统计快照
func (a *Arena) Stats() core.ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return core.ArenaStats{
		PageSize:    a.pageSize,
		Pages:       len(a.bufs),
		Free:        a.free,
		CheckedOut:  len(a.bufs) - a.free,
		Expansions:  a.expansions,
		Exhausted:   a.exhausted,
		BadReleases: a.badReleases,
	}
}
