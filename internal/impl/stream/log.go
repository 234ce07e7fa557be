package stream

import (
	"github.com/uniyakcom/dsui/core"
	"github.com/uniyakcom/dsui/internal/support/pool"
)

// ─── 编码 ───────────────────────────────────────────────────────────

func chunkRecordSize(part int) int { return core.HeaderSize + core.ChunkHeaderSize + part }

// putChunk 写入一条 extra-data 分片记录；owner.Seq 必须已分配
func putChunk(dst []byte, owner *core.Header, seq uint32, idx int, part []byte, total int) {
	h := core.Header{
		TimeStamp: owner.TimeStamp,
		Seq:       seq,
		IPID:      core.ExtraDataID,
		Tag:       owner.Tag,
		PID:       owner.PID,
		DataLen:   uint32(core.ChunkHeaderSize + len(part)),
	}
	h.Put(dst)
	c := core.ChunkHeader{
		OwnerSeq: owner.Seq,
		OwnerID:  owner.IPID,
		ChunkSeq: uint32(idx),
		TotalLen: uint32(total),
		ChunkLen: uint32(len(part)),
	}
	c.Put(dst[core.HeaderSize:])
	copy(dst[core.HeaderSize+core.ChunkHeaderSize:], part)
}

// chunkPart 第 i 个分片
func chunkPart(payload []byte, i, per int) []byte {
	return payload[i*per : min((i+1)*per, len(payload))]
}

// appendRecord 追加一条完整记录
func appendRecord(dst []byte, h *core.Header, payload []byte) []byte {
	var hdr [core.HeaderSize]byte
	h.Put(hdr[:])
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// appendChunked 追加 n 个分片记录和最后的所属记录；first 为预留序号块的起点
func appendChunked(dst []byte, h core.Header, payload []byte, pageSize int, first uint32) []byte {
	per := core.MaxChunkPayload(pageSize)
	n := core.ChunkCount(len(payload), pageSize)
	h.Seq = first + uint32(n)
	h.DataLen = core.DataElsewhere
	for i := 0; i < n; i++ {
		part := chunkPart(payload, i, per)
		off := len(dst)
		dst = append(dst, make([]byte, chunkRecordSize(len(part)))...)
		putChunk(dst[off:], &h, first+uint32(i), i, part, len(payload))
	}
	return appendRecord(dst, &h, nil)
}

// oversized 单个 buffer 放不下
func (s *Stream) oversized(payload []byte) bool {
	return core.HeaderSize+len(payload) > s.pageSize
}

// ─── 直写 ───────────────────────────────────────────────────────────

func (s *Stream) logDirect(h core.Header, payload []byte) error {
	if !s.oversized(payload) {
		return s.w.Direct(1, func(dst []byte, reserve func(uint32) uint32) []byte {
			h.Seq = reserve(1)
			return appendRecord(dst, &h, payload)
		})
	}
	n := uint32(core.ChunkCount(len(payload), s.pageSize)) + 1
	return s.w.Direct(uint64(n), func(dst []byte, reserve func(uint32) uint32) []byte {
		return appendChunked(dst, h, payload, s.pageSize, reserve(n))
	})
}

// ─── 分片 buffer ────────────────────────────────────────────────────

// chunkBuffers 把超大负载编码进新借出的 buffer：分片在前，所属记录在最后。
// 所属记录尽量放进最后一个分片 buffer 的剩余空间。
func (s *Stream) chunkBuffers(h core.Header, payload []byte) ([]*pool.Buffer, error) {
	per := core.MaxChunkPayload(s.pageSize)
	n := core.ChunkCount(len(payload), s.pageSize)
	lastPart := len(payload) - (n-1)*per
	need := n
	if s.pageSize-chunkRecordSize(lastPart) < core.HeaderSize {
		need++
	}

	bufs := make([]*pool.Buffer, 0, need)
	for len(bufs) < need {
		b, err := s.arena.Acquire()
		if err != nil {
			for _, b := range bufs {
				b.Release()
			}
			return nil, err
		}
		bufs = append(bufs, b)
	}

	// 序号一次性预留：分片 first..first+n-1，所属记录 first+n
	first := s.w.Reserve(uint32(n + 1))
	h.Seq = first + uint32(n)
	h.DataLen = core.DataElsewhere
	for i := 0; i < n; i++ {
		part := chunkPart(payload, i, per)
		putChunk(bufs[i].Reserve(chunkRecordSize(len(part))), &h, first+uint32(i), i, part, len(payload))
	}
	h.Put(bufs[len(bufs)-1].Reserve(core.HeaderSize))
	return bufs, nil
}

// ─── normal ─────────────────────────────────────────────────────────

// take 从缓存取 buffer；缓存为空时在调用线程同步补充（降级路径，计入 block_count）
func (s *Stream) take() (*pool.Buffer, error) {
	for {
		if b, ok := s.cache.PopFront(); ok {
			return b, nil
		}
		s.blocked.Inc()
		if err := s.repl.Fill(1); err != nil {
			return nil, err
		}
	}
}

func (s *Stream) logNormal(h core.Header, payload []byte) error {
	if s.oversized(payload) {
		bufs, err := s.chunkBuffers(h, payload)
		if err != nil {
			return err
		}
		s.w.EnqueueBatch(bufs)
		return nil
	}

	size := core.HeaderSize + len(payload)
	for {
		b, err := s.take()
		if err != nil {
			return err
		}
		if dst := b.Reserve(size); dst != nil {
			h.Seq = s.w.NextSeq()
			h.Put(dst)
			copy(dst[core.HeaderSize:], payload)
			s.cache.PushFront(b)
			return nil
		}
		// 写满：交给 Writer，换一个
		s.w.Enqueue(b)
	}
}

// ─── ring ───────────────────────────────────────────────────────────
//
// 缓存队首为当前 buffer；其后按从旧到新排列。当前 buffer 写满时移到队尾，
// 队首（最旧）被清空复用，计入 overwritten。

func (s *Stream) logRing(h core.Header, payload []byte) error {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	if s.oversized(payload) {
		return s.ringChunked(h, payload)
	}

	size := core.HeaderSize + len(payload)
	for {
		b, ok := s.cache.PopFront()
		if !ok {
			var err error
			if b, err = s.arena.Acquire(); err != nil {
				return err
			}
		}
		if dst := b.Reserve(size); dst != nil {
			h.Seq = s.w.NextSeq()
			h.Put(dst)
			copy(dst[core.HeaderSize:], payload)
			s.cache.PushFront(b)
			return nil
		}

		s.cache.PushBack(b)
		s.trimLocked(s.cacheSize)
		next, _ := s.cache.PopFront()
		if !next.Empty() {
			next.Reset()
			s.overwritten.Add(1)
		}
		s.cache.PushFront(next)
	}
}

// ringChunked 分片 buffer 追加到队尾，所属记录所在 buffer 成为新的当前 buffer
func (s *Stream) ringChunked(h core.Header, payload []byte) error {
	bufs, err := s.chunkBuffers(h, payload)
	if err != nil {
		return err
	}
	if cur, ok := s.cache.PopFront(); ok {
		s.cache.PushBack(cur)
	}
	last := len(bufs) - 1
	s.cache.PushBackAll(bufs[:last])
	// 本事件的分片都在队尾，裁剪只会丢弃更旧的 buffer
	s.trimLocked(max(s.cacheSize, len(bufs)) - 1)
	s.cache.PushFront(bufs[last])
	return nil
}

// trimLocked 从队首丢弃最旧的 buffer，直到长度不超过 keep（调用方持有 ringMu）
func (s *Stream) trimLocked(keep int) {
	for s.cache.Len() > keep {
		old, ok := s.cache.PopFront()
		if !ok {
			return
		}
		if !old.Empty() {
			s.overwritten.Add(1)
		}
		old.Release()
	}
}
