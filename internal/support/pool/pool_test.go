package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/uniyakcom/dsui/core"
)

func newTestArena(t *testing.T, pageSize, initial, max int) *Arena {
	t.Helper()
	a, err := New(Config{PageSize: pageSize, InitialPages: initial, MaxPages: max})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// TestArenaAcquireRelease 测试基本借出/归还
func TestArenaAcquireRelease(t *testing.T) {
	a := newTestArena(t, 128, 4, 0)

	b, err := a.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if b.Cap() != 128 {
		t.Errorf("Cap = %d, want 128", b.Cap())
	}
	if !b.Append([]byte("hello")) {
		t.Fatal("Append failed")
	}
	if string(b.Bytes()) != "hello" {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), "hello")
	}

	st := a.Stats()
	if st.CheckedOut != 1 || st.Free != 3 {
		t.Errorf("stats = %+v, want 1 out / 3 free", st)
	}

	b.Release()
	st = a.Stats()
	if st.CheckedOut != 0 || st.Free != 4 {
		t.Errorf("after release stats = %+v", st)
	}

	// 再次借出得到的是清空的页
	b2, _ := a.Acquire()
	if !b2.Empty() {
		t.Errorf("reacquired buffer not empty: len=%d", b2.Len())
	}
}

// TestArenaDoubling 测试耗尽时翻倍扩容
func TestArenaDoubling(t *testing.T) {
	a := newTestArena(t, 64, 2, 0)

	var held []*Buffer
	for i := 0; i < 5; i++ {
		b, err := a.Acquire()
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		held = append(held, b)
	}
	st := a.Stats()
	// 2 → 4 → 8
	if st.Pages != 8 {
		t.Errorf("Pages = %d, want 8", st.Pages)
	}
	if st.Expansions != 2 {
		t.Errorf("Expansions = %d, want 2", st.Expansions)
	}
	for _, b := range held {
		b.Release()
	}
	if a.Stats().Free != 8 {
		t.Errorf("Free = %d, want 8", a.Stats().Free)
	}
}

// TestArenaExhausted 测试达到上限后返回 ErrAllocationExhausted
func TestArenaExhausted(t *testing.T) {
	a := newTestArena(t, 64, 2, 3)

	for i := 0; i < 3; i++ {
		if _, err := a.Acquire(); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	_, err := a.Acquire()
	if !errors.Is(err, core.ErrAllocationExhausted) {
		t.Fatalf("err = %v, want ErrAllocationExhausted", err)
	}
	if a.Stats().Exhausted != 1 {
		t.Errorf("Exhausted = %d, want 1", a.Stats().Exhausted)
	}
}

// TestArenaDoubleRelease 测试重复归还被忽略
func TestArenaDoubleRelease(t *testing.T) {
	a := newTestArena(t, 64, 2, 0)
	b, _ := a.Acquire()
	b.Release()
	b.Release()

	st := a.Stats()
	if st.BadReleases != 1 {
		t.Errorf("BadReleases = %d, want 1", st.BadReleases)
	}
	if st.Free != 2 {
		t.Errorf("Free = %d, want 2", st.Free)
	}

	// 两次借出绝不会得到同一页
	x, _ := a.Acquire()
	y, _ := a.Acquire()
	if x == y || x.Page() == y.Page() {
		t.Errorf("duplicate page handed out: %d", x.Page())
	}
}

// TestArenaForeignRelease 测试归还不属于本 Arena 的 Buffer
func TestArenaForeignRelease(t *testing.T) {
	a := newTestArena(t, 64, 1, 0)
	other := newTestArena(t, 64, 1, 0)
	b, _ := other.Acquire()
	a.Release(b)
	if a.Stats().BadReleases != 1 {
		t.Errorf("BadReleases = %d, want 1", a.Stats().BadReleases)
	}
}

// TestArenaInvalidConfig 测试非法配置
func TestArenaInvalidConfig(t *testing.T) {
	if _, err := New(Config{PageSize: 8}); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("tiny page: err = %v", err)
	}
	if _, err := New(Config{PageSize: 128, InitialPages: -1}); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("negative pages: err = %v", err)
	}
}

// TestArenaConcurrentOwnership 并发借出/归还：同一时刻任一页至多一个持有者
func TestArenaConcurrentOwnership(t *testing.T) {
	a := newTestArena(t, 64, 4, 64)

	var owners [64]atomic.Int32
	var wg sync.WaitGroup
	var violations atomic.Int32

	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				b, err := a.Acquire()
				if err != nil {
					continue
				}
				if owners[b.Page()].Add(1) != 1 {
					violations.Add(1)
				}
				st := a.Stats()
				if st.CheckedOut > st.Pages {
					violations.Add(1)
				}
				owners[b.Page()].Add(-1)
				b.Release()
			}
		}()
	}
	wg.Wait()

	if v := violations.Load(); v != 0 {
		t.Errorf("ownership violations: %d", v)
	}
	if st := a.Stats(); st.CheckedOut != 0 {
		t.Errorf("CheckedOut = %d after all releases", st.CheckedOut)
	}
}

// TestBufferReserve 测试游标
func TestBufferReserve(t *testing.T) {
	a := newTestArena(t, 64, 1, 0)
	b, _ := a.Acquire()

	if s := b.Reserve(65); s != nil {
		t.Error("Reserve beyond capacity should return nil")
	}
	s := b.Reserve(60)
	if len(s) != 60 || b.Free() != 4 {
		t.Errorf("len=%d free=%d", len(s), b.Free())
	}
	if b.Append([]byte("12345")) {
		t.Error("Append should fail when it does not fit")
	}
	b.Consume(60)
	if !b.Empty() || b.Free() != 64 {
		t.Errorf("after consume: empty=%v free=%d", b.Empty(), b.Free())
	}
}
