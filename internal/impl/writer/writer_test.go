package writer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniyakcom/dsui/core"
	"github.com/uniyakcom/dsui/internal/support/pool"
)

type memSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	failAt int // 第 failAt 次 Write 失败（0=不失败）
	writes int
	gate   chan struct{} // 非 nil 时 Write 先等待其关闭
}

func (m *memSink) Write(p []byte) (int, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failAt > 0 && m.writes >= m.failAt {
		return 0, errors.New("disk full")
	}
	return m.buf.Write(p)
}

func (m *memSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memSink) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf.Bytes()...)
}

func newArena(t *testing.T) *pool.Arena {
	t.Helper()
	a, err := pool.New(pool.Config{PageSize: 256, InitialPages: 8})
	require.NoError(t, err)
	return a
}

// TestWriterHeaderAndBuffers 测试文件头与 buffer 按序写出
func TestWriterHeaderAndBuffers(t *testing.T) {
	sink := &memSink{}
	w, err := New("mem", sink, Config{Flags: 7})
	require.NoError(t, err)

	a := newArena(t)
	for _, s := range []string{"alpha", "beta"} {
		b, err := a.Acquire()
		require.NoError(t, err)
		require.True(t, b.Append([]byte(s)))
		w.Enqueue(b)
	}
	require.NoError(t, w.Sync(context.Background()))
	require.NoError(t, w.Close())

	out := sink.bytes()
	require.Len(t, out, core.FileHeaderSize+len("alphabeta"))
	hdr, err := core.DecodeFileHeader(out)
	require.NoError(t, err)
	assert.Equal(t, core.FormatVersion, hdr.Version)
	assert.Equal(t, uint32(7), hdr.Flags)
	assert.Equal(t, w.Header().RunID, hdr.RunID)
	assert.Equal(t, "alphabeta", string(out[core.FileHeaderSize:]))

	assert.True(t, sink.closed)
	assert.Equal(t, 0, a.Stats().CheckedOut, "buffers must return to the arena")
	assert.Equal(t, uint64(2), w.Stats().Buffers)
}

// TestWriterEmptyBufferReleased 测试空 buffer 直接归还不入队
func TestWriterEmptyBufferReleased(t *testing.T) {
	w, err := New("mem", &memSink{}, Config{})
	require.NoError(t, err)
	a := newArena(t)
	b, _ := a.Acquire()
	w.Enqueue(b)
	w.EnqueueBatch([]*pool.Buffer{nil})
	assert.Equal(t, 0, a.Stats().CheckedOut)
	assert.Equal(t, int64(0), w.Stats().Pending)
	require.NoError(t, w.Close())
}

// TestWriterReserve 测试批量预留序号
func TestWriterReserve(t *testing.T) {
	w, err := New("mem", &memSink{}, Config{})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, uint32(1), w.NextSeq())
	first := w.Reserve(4)
	assert.Equal(t, uint32(2), first)
	assert.Equal(t, uint32(6), w.NextSeq())
	assert.Equal(t, uint32(0), w.Reserve(0))
}

// TestWriterDirect 测试并发直写的序号递增
func TestWriterDirect(t *testing.T) {
	sink := &memSink{}
	w, err := New("mem", sink, Config{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := w.Direct(1, func(dst []byte, reserve func(uint32) uint32) []byte {
					h := core.Header{Seq: reserve(1), IPID: core.FirstUserID}
					var rec [core.HeaderSize]byte
					h.Put(rec[:])
					return append(dst, rec[:]...)
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	// 直写路径的序号在文件中严格递增
	out := sink.bytes()[core.FileHeaderSize:]
	require.Len(t, out, 200*core.HeaderSize)
	var prev uint32
	for off := 0; off < len(out); off += core.HeaderSize {
		h := core.DecodeHeader(out[off:])
		require.Greater(t, h.Seq, prev)
		prev = h.Seq
	}
	assert.Equal(t, uint64(200), w.Stats().Direct)
}

// TestWriterSinkFailureSticky 测试 sink 失败后保持失败状态
func TestWriterSinkFailureSticky(t *testing.T) {
	// 第 1 次 Write 是文件头，第 2 次起失败
	sink := &memSink{failAt: 2}
	w, err := New("mem", sink, Config{})
	require.NoError(t, err)
	a := newArena(t)

	b, _ := a.Acquire()
	b.Append([]byte("x"))
	w.Enqueue(b)
	err = w.Sync(context.Background())
	require.ErrorIs(t, err, core.ErrSinkWriteFailed)

	b, _ = a.Acquire()
	b.Append([]byte("y"))
	w.Enqueue(b)
	_ = w.Sync(context.Background())

	st := w.Stats()
	assert.True(t, st.Failed)
	assert.Equal(t, uint64(2), st.Dropped)
	assert.Equal(t, 0, a.Stats().CheckedOut)

	err = w.Direct(1, func(dst []byte, _ func(uint32) uint32) []byte { return dst })
	assert.ErrorIs(t, err, core.ErrSinkWriteFailed)
	assert.ErrorIs(t, w.Close(), core.ErrSinkWriteFailed)
}

// TestWriterSyncWaitsForPending 测试 Sync 等到最后一个在途 buffer 写出才返回，并遵守 ctx 截止
func TestWriterSyncWaitsForPending(t *testing.T) {
	sink := &memSink{}
	w, err := New("mem", sink, Config{})
	require.NoError(t, err)
	gate := make(chan struct{})
	sink.gate = gate

	a := newArena(t)
	b, _ := a.Acquire()
	b.Append([]byte("held"))
	w.Enqueue(b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Sync(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(1), w.Stats().Pending)

	done := make(chan error, 1)
	go func() { done <- w.Sync(context.Background()) }()
	close(gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Sync not woken after the last buffer was written")
	}
	assert.Equal(t, int64(0), w.Stats().Pending)
	assert.Equal(t, "held", string(sink.bytes()[core.FileHeaderSize:]))
	require.NoError(t, w.Close())
}

// TestWriterHeaderFailure 测试文件头写失败时关闭 sink
func TestWriterHeaderFailure(t *testing.T) {
	sink := &memSink{failAt: 1}
	_, err := New("mem", sink, Config{})
	require.ErrorIs(t, err, core.ErrSinkWriteFailed)
	assert.True(t, sink.closed)
}

// TestWriterSpawnFailureDrainsInline 测试无后台线程时同步排空
func TestWriterSpawnFailureDrainsInline(t *testing.T) {
	sink := &memSink{}
	w, err := New("mem", sink, Config{Spawn: func(func()) error { return errors.New("pool full") }})
	require.NoError(t, err)
	a := newArena(t)
	b, _ := a.Acquire()
	b.Append([]byte("inline"))
	w.Enqueue(b)
	require.NoError(t, w.Sync(context.Background()))
	assert.Equal(t, "inline", string(sink.bytes()[core.FileHeaderSize:]))
	require.NoError(t, w.Close())
}

// TestWriterHandles 测试 Handle 引用计数，最后一个释放者关闭 Writer
func TestWriterHandles(t *testing.T) {
	sink := &memSink{}
	idle := make(chan *Writer, 1)
	w, err := New("mem", sink, Config{OnIdle: func(w *Writer) { idle <- w }})
	require.NoError(t, err)

	h1, err := w.Acquire()
	require.NoError(t, err)
	h2, err := w.Acquire()
	require.NoError(t, err)
	assert.Equal(t, int32(2), w.Refs())

	require.NoError(t, h1.Release())
	require.NoError(t, h1.Release(), "double release is a no-op")
	assert.Equal(t, int32(1), w.Refs())
	assert.False(t, sink.closed)

	require.NoError(t, h2.Release())
	select {
	case got := <-idle:
		assert.Same(t, w, got)
	case <-time.After(time.Second):
		t.Fatal("OnIdle not called")
	}
	assert.True(t, sink.closed)

	_, err = w.Acquire()
	assert.ErrorIs(t, err, core.ErrClosed)
}

// TestWriterEnqueueAfterClose 测试关闭后入队的 buffer 被丢弃并归还
func TestWriterEnqueueAfterClose(t *testing.T) {
	w, err := New("mem", &memSink{}, Config{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	a := newArena(t)
	b, _ := a.Acquire()
	b.Append([]byte("late"))
	w.Enqueue(b)
	assert.Equal(t, 0, a.Stats().CheckedOut)
	assert.Equal(t, uint64(1), w.Stats().Dropped)
}

// TestOpenFileCompressed 测试 zstd 压缩文件 sink
func TestOpenFileCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.dsui.zst")
	sink, err := OpenFile(path, true)
	require.NoError(t, err)
	w, err := New(path, sink, Config{})
	require.NoError(t, err)

	a := newArena(t)
	b, _ := a.Acquire()
	b.Append(bytes.Repeat([]byte("z"), 200))
	w.Enqueue(b)
	require.NoError(t, w.Sync(context.Background()))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	require.NoError(t, err)
	require.Len(t, raw, core.FileHeaderSize+200)
	_, err = core.DecodeFileHeader(raw)
	assert.NoError(t, err)
}

// TestOpenFilePlain 测试普通文件 sink
func TestOpenFilePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.dsui")
	sink, err := OpenFile(path, false)
	require.NoError(t, err)
	w, err := New(path, sink, Config{})
	require.NoError(t, err)
	require.NoError(t, w.Sync(context.Background()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, raw, core.FileHeaderSize, "Sync flushes the bufio layer")
	require.NoError(t, w.Close())

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing", "x"), false)
	assert.ErrorIs(t, err, core.ErrSinkWriteFailed)
}

// TestDial 测试 TCP sink 连接与写出
func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		data, _ := io.ReadAll(c)
		got <- data
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	conn, err := Dial(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	w, err := New(conn.RemoteAddr().String(), conn, Config{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case data := <-got:
		assert.Len(t, data, core.FileHeaderSize)
	case <-time.After(2 * time.Second):
		t.Fatal("listener received nothing")
	}

	_, err = Dial(context.Background(), "127.0.0.1", 0)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
