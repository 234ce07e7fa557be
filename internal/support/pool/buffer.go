package pool

// Buffer arena 中单个页的视图，带写/读游标
//
// 所有权始终唯一：Acquire 后归调用方，入队后归队列/Writer，Release 后归 Arena。
// Buffer 本身不加锁。
type Buffer struct {
	arena *Arena
	page  int32
	data  []byte
	w, r  int
	out   bool // 由 arena.mu 保护
}

// Cap 页容量
func (b *Buffer) Cap() int { return len(b.data) }

// Len 未读字节数
func (b *Buffer) Len() int { return b.w - b.r }

// Free 剩余可写字节数
func (b *Buffer) Free() int { return len(b.data) - b.w }

// Empty 是否没有写入任何数据
func (b *Buffer) Empty() bool { return b.w == b.r }

// Page 页索引
func (b *Buffer) Page() int { return int(b.page) }

// Reserve 预留 n 字节并推进写游标，返回可写切片；空间不足返回 nil
func (b *Buffer) Reserve(n int) []byte {
	if n < 0 || n > b.Free() {
		return nil
	}
	s := b.data[b.w : b.w+n : b.w+n]
	b.w += n
	return s
}

// Append 追加 p，空间不足返回 false（不做部分写入）
func (b *Buffer) Append(p []byte) bool {
	dst := b.Reserve(len(p))
	if dst == nil && len(p) > 0 {
		return false
	}
	copy(dst, p)
	return true
}

// Bytes 返回未读区域（仅在持有所有权期间有效）
func (b *Buffer) Bytes() []byte { return b.data[b.r:b.w] }

// Consume 推进读游标
func (b *Buffer) Consume(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Reset 清空游标（ring 模式覆盖最旧数据）
func (b *Buffer) Reset() { b.w, b.r = 0, 0 }

// Release 归还到所属 Arena
func (b *Buffer) Release() {
	if b != nil && b.arena != nil {
		b.arena.Release(b)
	}
}
