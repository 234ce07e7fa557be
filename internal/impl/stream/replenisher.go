package stream

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/uniyakcom/dsui/internal/impl/writer"
	"github.com/uniyakcom/dsui/internal/support/pool"
	"github.com/uniyakcom/dsui/internal/support/queue"
)

// exhaustedBackoff Arena 达到上限时补充线程的重试间隔
const exhaustedBackoff = time.Millisecond

// Replenisher 后台补充线程：把 Stream 的缓存维持在水位线以上
//
// 循环在「缓存低于水位或收到停止」条件上等待；Fill 也可由热路径同步调用（可重入）。
type Replenisher struct {
	arena *pool.Arena
	cache *queue.Queue[*pool.Buffer]
	mark  int
	log   *slog.Logger

	stopped atomic.Bool
	started bool
	done    chan struct{}

	filled    atomic.Uint64
	exhausted atomic.Uint64
}

// NewReplenisher 创建补充线程（未启动）
func NewReplenisher(arena *pool.Arena, cache *queue.Queue[*pool.Buffer], mark int, logger *slog.Logger) *Replenisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replenisher{
		arena: arena,
		cache: cache,
		mark:  mark,
		log:   logger,
		done:  make(chan struct{}),
	}
}

// Start 在 spawn 提供的线程上启动循环
func (r *Replenisher) Start(spawn writer.Spawner) error {
	if err := spawn(r.loop); err != nil {
		return err
	}
	r.started = true
	return nil
}

func (r *Replenisher) below(n int) bool { return n < r.mark || r.stopped.Load() }

func (r *Replenisher) loop() {
	defer close(r.done)
	for {
		n, open := r.cache.Wait(r.below)
		if r.stopped.Load() || !open {
			return
		}
		if err := r.Fill(r.mark - n); err != nil {
			r.exhausted.Add(1)
			r.log.Debug("replenish failed, backing off", "error", err)
			time.Sleep(exhaustedBackoff)
		}
	}
}

// Fill 从 Arena 取 amount 个 buffer 追加到缓存尾部
func (r *Replenisher) Fill(amount int) error {
	for i := 0; i < amount; i++ {
		b, err := r.arena.Acquire()
		if err != nil {
			return err
		}
		r.cache.PushBack(b)
		r.filled.Add(1)
	}
	return nil
}

// Stop 设置停止标志、唤醒并等待循环退出（幂等）
func (r *Replenisher) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	r.cache.Broadcast()
	if r.started {
		<-r.done
	}
}

// Filled 累计补充的 buffer 数
func (r *Replenisher) Filled() uint64 { return r.filled.Load() }
