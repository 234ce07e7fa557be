package entity

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/uniyakcom/dsui/core"
)

// Registry 进程内埋点注册表
type Registry struct {
	mu       sync.RWMutex
	byKey    map[string]*IP
	byID     []*IP // 下标 = id - core.FirstUserID
	byStream map[uint32][]*State
	log      *slog.Logger
}

// NewRegistry 创建注册表
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byKey:    make(map[string]*IP),
		byStream: make(map[uint32][]*State),
		log:      logger,
	}
}

// Register 注册埋点。同名 (group, name) 再次注册返回已存在的 IP；
// kind 不一致时返回 ErrKindMismatch。
func (r *Registry) Register(group, name string, kind core.Kind, info string) (*IP, error) {
	const op = "entity.Register"
	if name == "" {
		return nil, core.Errorf(op, core.ErrInvalidConfig, "empty name")
	}
	if kind < core.KindEvent || kind > core.KindHistogram {
		return nil, core.Errorf(op, core.ErrInvalidConfig, "kind %s", kind)
	}
	k := key(group, name)

	r.mu.RLock()
	ip, ok := r.byKey[k]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if ip, ok = r.byKey[k]; !ok {
			ip = &IP{
				ID:    core.FirstUserID + uint32(len(r.byID)),
				Group: group,
				Name:  name,
				Kind:  kind,
				Info:  info,
			}
			r.byKey[k] = ip
			r.byID = append(r.byID, ip)
			r.log.Debug("ip registered", "ip", ip.String(), "id", ip.ID, "kind", kind)
		}
		r.mu.Unlock()
	}
	if ip.Kind != kind {
		return nil, core.Errorf(op, core.ErrKindMismatch, "%s registered as %s, not %s", ip, ip.Kind, kind)
	}
	return ip, nil
}

// Lookup 按 (group, name) 查找
func (r *Registry) Lookup(group, name string) (*IP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ip, ok := r.byKey[key(group, name)]
	return ip, ok
}

// ByID 按数字 id 查找
func (r *Registry) ByID(id uint32) (*IP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < core.FirstUserID || int(id-core.FirstUserID) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id-core.FirstUserID], true
}

// Len 已注册的 IP 数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// IPs 按 id 排序的全部 IP
func (r *Registry) IPs() []*IP {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*IP(nil), r.byID...)
}

// Enable 在 Stream 上启用 IP
func (r *Registry) Enable(s Emitter, ip *IP, cfg Config) (*State, error) {
	const op = "entity.Enable"
	if ip == nil {
		return nil, core.Errorf(op, core.ErrUnknownIP, "nil ip")
	}
	if got, ok := r.ByID(ip.ID); !ok || got != ip {
		return nil, core.Errorf(op, core.ErrUnknownIP, "%s", ip)
	}
	st, err := newState(ip, s, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// 与 DisableAll 同锁判定：关闭中的 Stream 不能再挂入状态
	if !s.Accepting() {
		return nil, core.Errorf(op, core.ErrClosed, "stream %d", s.ID())
	}
	if _, ok := ip.State(s.ID()); ok {
		return nil, core.Errorf(op, core.ErrAlreadyEnabled, "%s on stream %d", ip, s.ID())
	}
	ip.with(st)
	r.byStream[s.ID()] = append(r.byStream[s.ID()], st)
	r.log.Debug("ip enabled", "ip", ip.String(), "stream", s.ID())
	return st, nil
}

// Disable 在 Stream 上禁用 IP
//
// 直方图若仍有调优缓冲样本，先完成调优并输出一条快照记录，样本不会丢失。
func (r *Registry) Disable(s Emitter, ip *IP) error {
	const op = "entity.Disable"
	if ip == nil {
		return core.Errorf(op, core.ErrUnknownIP, "nil ip")
	}
	r.mu.Lock()
	st, ok := ip.State(s.ID())
	if !ok {
		r.mu.Unlock()
		return core.Errorf(op, core.ErrNotEnabled, "%s on stream %d", ip, s.ID())
	}
	r.unlink(s.ID(), st)
	r.mu.Unlock()

	// 输出在锁外进行
	if payload, ok := st.retire(false); ok {
		return s.Emit(ip, uint32(ip.Kind), payload)
	}
	return nil
}

// DisableAll 禁用 Stream 上的全部实体；snapshot 为 true 时先输出每个有状态实体的当前值
// （关闭 Stream 时使用）。返回第一个输出错误。
func (r *Registry) DisableAll(s Emitter, snapshot bool) error {
	r.mu.Lock()
	states := r.byStream[s.ID()]
	delete(r.byStream, s.ID())
	for _, st := range states {
		st.ip.without(st)
	}
	r.mu.Unlock()

	sort.Slice(states, func(i, j int) bool { return states[i].ip.ID < states[j].ip.ID })
	var first error
	for _, st := range states {
		payload, ok := st.retire(snapshot)
		if !ok {
			continue
		}
		if err := s.Emit(st.ip, uint32(st.ip.Kind), payload); err != nil && first == nil {
			first = err
		}
	}
	if len(states) > 0 {
		r.log.Debug("stream entities disabled", "stream", s.ID(), "count", len(states))
	}
	return first
}

// Enabled Stream 上已启用的实体（按 IP id 排序）
func (r *Registry) Enabled(streamID uint32) []*State {
	r.mu.RLock()
	out := append([]*State(nil), r.byStream[streamID]...)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ip.ID < out[j].ip.ID })
	return out
}

// unlink 从两侧列表中移除（调用方持有写锁）
func (r *Registry) unlink(streamID uint32, st *State) {
	st.ip.without(st)
	list := r.byStream[streamID]
	for i, s := range list {
		if s == st {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.byStream, streamID)
	} else {
		r.byStream[streamID] = list
	}
}
