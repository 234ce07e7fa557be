// Package queue 提供带唤醒条件的线程安全双端队列
//
// 存储沿用 2 的幂环形数组 + mask 索引（head/tail 为单调 uint64，差值即长度），
// 满时翻倍。与无锁 SPSC 不同，这里需要多生产者、PushFront 与条件等待，
// 因此由一把小 mutex + sync.Cond 保护；每次插入/删除都会 Broadcast。
//
// 热路径只使用非阻塞的 PopFront；Wait 仅供后台线程（补充线程、Writer）使用。
package queue

import (
	"sync"

	"github.com/uniyakcom/dsui/util"
)

const defaultSize = 8

// Queue FIFO/LIFO 混合队列
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	mask   uint64
	head   uint64 // 队首位置
	tail   uint64 // 队尾之后的位置
	closed bool
}

// New 创建队列，hint 为预期容量
func New[T any](hint int) *Queue[T] {
	size := util.NextPow2(hint)
	if size < defaultSize {
		size = defaultSize
	}
	q := &Queue[T]{
		buf:  make([]T, size),
		mask: uint64(size - 1),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// grow 容量翻倍，保持顺序（调用方持有 mu）
func (q *Queue[T]) grow() {
	n := q.tail - q.head
	nb := make([]T, len(q.buf)*2)
	for i := uint64(0); i < n; i++ {
		nb[i] = q.buf[(q.head+i)&q.mask]
	}
	q.buf = nb
	q.mask = uint64(len(nb) - 1)
	q.head = 0
	q.tail = n
}

// PushBack 追加到队尾
func (q *Queue[T]) PushBack(v T) {
	q.mu.Lock()
	if q.tail-q.head == uint64(len(q.buf)) {
		q.grow()
	}
	q.buf[q.tail&q.mask] = v
	q.tail++
	q.cond.Broadcast()
	q.mu.Unlock()
}

// PushBackAll 按顺序批量追加（对其他生产者而言原子可见）
func (q *Queue[T]) PushBackAll(vs []T) {
	if len(vs) == 0 {
		return
	}
	q.mu.Lock()
	for _, v := range vs {
		if q.tail-q.head == uint64(len(q.buf)) {
			q.grow()
		}
		q.buf[q.tail&q.mask] = v
		q.tail++
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

// PushFront 插入到队首
func (q *Queue[T]) PushFront(v T) {
	q.mu.Lock()
	if q.tail-q.head == uint64(len(q.buf)) {
		q.grow()
	}
	q.head--
	q.buf[q.head&q.mask] = v
	q.cond.Broadcast()
	q.mu.Unlock()
}

// PopFront 非阻塞弹出队首
func (q *Queue[T]) PopFront() (T, bool) {
	var zero T
	q.mu.Lock()
	if q.head == q.tail {
		q.mu.Unlock()
		return zero, false
	}
	v := q.buf[q.head&q.mask]
	q.buf[q.head&q.mask] = zero // help GC
	q.head++
	q.cond.Broadcast()
	q.mu.Unlock()
	return v, true
}

// Len 当前元素数
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	n := int(q.tail - q.head)
	q.mu.Unlock()
	return n
}

// Drain 按顺序取出全部元素
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	n := q.tail - q.head
	out := make([]T, 0, n)
	var zero T
	for q.head != q.tail {
		out = append(out, q.buf[q.head&q.mask])
		q.buf[q.head&q.mask] = zero
		q.head++
	}
	if n > 0 {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	return out
}

// Wait 阻塞直到 ready(len) 为真或队列关闭
// 返回当时的长度；open=false 表示因 Close 返回。
func (q *Queue[T]) Wait(ready func(n int) bool) (n int, open bool) {
	q.mu.Lock()
	for !q.closed && !ready(int(q.tail-q.head)) {
		q.cond.Wait()
	}
	n, open = int(q.tail-q.head), !q.closed
	q.mu.Unlock()
	return n, open
}

// Broadcast 唤醒所有 Wait（外部条件变化时使用，如停止标志）
func (q *Queue[T]) Broadcast() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Close 标记关闭并唤醒等待者；关闭后仍可 Push/Pop
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
