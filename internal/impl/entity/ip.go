// Package entity 提供埋点（IP）注册表与 per-stream 实体状态
//
// 设计特点:
//   - IP 身份不可变，按 (group, name) 去重，首次注册时分配数字 id
//   - 每个 IP 的已启用状态集合是 CoW 快照（atomic.Pointer），热路径无锁读取
//   - 启用/禁用/注册走注册表写锁，只在冷路径上发生
//   - State 自带锁，保护计数器 / 区间 / 直方图的可变字段
package entity

import (
	"sync/atomic"

	"github.com/uniyakcom/dsui/core"
)

// IP 埋点身份
type IP struct {
	ID    uint32
	Group string
	Name  string
	Kind  core.Kind
	Info  string // 可选格式提示，供下游解析负载

	states atomic.Pointer[[]*State] // 启用了该 IP 的 Stream 状态（CoW）
}

// States 当前启用集合的快照（只读）；nil IP 视为未启用
func (ip *IP) States() []*State {
	if ip == nil {
		return nil
	}
	if p := ip.states.Load(); p != nil {
		return *p
	}
	return nil
}

// Enabled 是否有任一 Stream 启用了该 IP
func (ip *IP) Enabled() bool { return len(ip.States()) > 0 }

// State 该 IP 在指定 Stream 上的状态
func (ip *IP) State(streamID uint32) (*State, bool) {
	for _, st := range ip.States() {
		if st.stream.ID() == streamID {
			return st, true
		}
	}
	return nil, false
}

// String group/name
func (ip *IP) String() string { return ip.Group + "/" + ip.Name }

func key(group, name string) string { return group + "\x00" + name }

// with / without 在写锁内构建新快照

func (ip *IP) with(st *State) {
	old := ip.States()
	next := make([]*State, len(old), len(old)+1)
	copy(next, old)
	next = append(next, st)
	ip.states.Store(&next)
}

func (ip *IP) without(st *State) {
	old := ip.States()
	next := make([]*State, 0, len(old))
	for _, s := range old {
		if s != st {
			next = append(next, s)
		}
	}
	ip.states.Store(&next)
}
