package core

import (
	"encoding/binary"
	"math"
)

// ═══════════════════════════════════════════════════════════════════
// 记录布局（小端序）
// ═══════════════════════════════════════════════════════════════════
//
//	文件头:  magic[4] version:4 pid:4 flags:4 wall_ns:8 mono_ns:8 run_id[16]   = 48B
//	记录头:  time_stamp:8 seq:4 ip_id:4 event_tag:4 pid:4 data_len:4          = 28B
//	分片头:  owner_seq:4 owner_id:4 chunk_seq:4 total_len:4 chunk_len:4        = 20B
//
// 超出单个 buffer 的负载被拆成若干 extra-data 分片记录（ip_id = ExtraDataID），
// 全部写在所属事件之前；所属事件的 data_len = DataElsewhere。

const (
	// FormatVersion 当前记录格式版本
	FormatVersion uint32 = 2

	// FileHeaderSize 文件头长度
	FileHeaderSize = 48
	// HeaderSize 记录头长度
	HeaderSize = 28
	// ChunkHeaderSize extra-data 分片头长度
	ChunkHeaderSize = 20

	// DataElsewhere data_len 取该值表示负载在之前的分片记录中
	DataElsewhere uint32 = math.MaxUint32

	// ExtraDataID 保留给 extra-data 分片记录的 ip_id
	ExtraDataID uint32 = 1
	// FirstUserID 用户埋点的首个 id
	FirstUserID uint32 = 16
)

// Magic 文件头魔数
var Magic = [4]byte{'D', 'S', 'U', 'I'}

// FileHeader 输出流头部（含时钟校准记录）
type FileHeader struct {
	Version uint32
	PID     uint32
	Flags   uint32
	WallNS  int64 // 校准时刻的 wall clock（Unix ns）
	MonoNS  int64 // 同一时刻的单调时钟（与记录 time_stamp 同一时基）
	RunID   [16]byte
}

// Encode 编码文件头
func (h *FileHeader) Encode() []byte {
	b := make([]byte, FileHeaderSize)
	copy(b[0:4], Magic[:])
	binary.LittleEndian.PutUint32(b[4:], h.Version)
	binary.LittleEndian.PutUint32(b[8:], h.PID)
	binary.LittleEndian.PutUint32(b[12:], h.Flags)
	binary.LittleEndian.PutUint64(b[16:], uint64(h.WallNS))
	binary.LittleEndian.PutUint64(b[24:], uint64(h.MonoNS))
	copy(b[32:48], h.RunID[:])
	return b
}

// DecodeFileHeader 解码文件头
func DecodeFileHeader(b []byte) (FileHeader, error) {
	var h FileHeader
	if len(b) < FileHeaderSize {
		return h, Errorf("core.DecodeFileHeader", ErrInvalidConfig, "short header: %d bytes", len(b))
	}
	if [4]byte(b[0:4]) != Magic {
		return h, Errorf("core.DecodeFileHeader", ErrInvalidConfig, "bad magic %q", b[0:4])
	}
	h.Version = binary.LittleEndian.Uint32(b[4:])
	h.PID = binary.LittleEndian.Uint32(b[8:])
	h.Flags = binary.LittleEndian.Uint32(b[12:])
	h.WallNS = int64(binary.LittleEndian.Uint64(b[16:]))
	h.MonoNS = int64(binary.LittleEndian.Uint64(b[24:]))
	copy(h.RunID[:], b[32:48])
	return h, nil
}

// Header 单条记录头
type Header struct {
	TimeStamp uint64
	Seq       uint32
	IPID      uint32
	Tag       uint32
	PID       uint32
	DataLen   uint32
}

// Put 把记录头写入 b（len(b) >= HeaderSize）
func (h *Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint64(b[0:], h.TimeStamp)
	binary.LittleEndian.PutUint32(b[8:], h.Seq)
	binary.LittleEndian.PutUint32(b[12:], h.IPID)
	binary.LittleEndian.PutUint32(b[16:], h.Tag)
	binary.LittleEndian.PutUint32(b[20:], h.PID)
	binary.LittleEndian.PutUint32(b[24:], h.DataLen)
}

// DecodeHeader 解码记录头
func DecodeHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		TimeStamp: binary.LittleEndian.Uint64(b[0:]),
		Seq:       binary.LittleEndian.Uint32(b[8:]),
		IPID:      binary.LittleEndian.Uint32(b[12:]),
		Tag:       binary.LittleEndian.Uint32(b[16:]),
		PID:       binary.LittleEndian.Uint32(b[20:]),
		DataLen:   binary.LittleEndian.Uint32(b[24:]),
	}
}

// Chunked 负载是否位于分片记录中
func (h *Header) Chunked() bool { return h.DataLen == DataElsewhere }

// PayloadLen 该记录头之后紧跟的负载字节数
func (h *Header) PayloadLen() int {
	if h.Chunked() {
		return 0
	}
	return int(h.DataLen)
}

// ChunkHeader extra-data 分片头
type ChunkHeader struct {
	OwnerSeq uint32
	OwnerID  uint32
	ChunkSeq uint32
	TotalLen uint32
	ChunkLen uint32
}

// Put 写入分片头（len(b) >= ChunkHeaderSize）
func (c *ChunkHeader) Put(b []byte) {
	_ = b[ChunkHeaderSize-1]
	binary.LittleEndian.PutUint32(b[0:], c.OwnerSeq)
	binary.LittleEndian.PutUint32(b[4:], c.OwnerID)
	binary.LittleEndian.PutUint32(b[8:], c.ChunkSeq)
	binary.LittleEndian.PutUint32(b[12:], c.TotalLen)
	binary.LittleEndian.PutUint32(b[16:], c.ChunkLen)
}

// DecodeChunkHeader 解码分片头
func DecodeChunkHeader(b []byte) ChunkHeader {
	_ = b[ChunkHeaderSize-1]
	return ChunkHeader{
		OwnerSeq: binary.LittleEndian.Uint32(b[0:]),
		OwnerID:  binary.LittleEndian.Uint32(b[4:]),
		ChunkSeq: binary.LittleEndian.Uint32(b[8:]),
		TotalLen: binary.LittleEndian.Uint32(b[12:]),
		ChunkLen: binary.LittleEndian.Uint32(b[16:]),
	}
}

// MaxChunkPayload 容量为 capacity 的 buffer 中单个分片能携带的最大字节数
func MaxChunkPayload(capacity int) int {
	return capacity - HeaderSize - ChunkHeaderSize
}

// ChunkCount 长度为 n 的负载需要的分片数
func ChunkCount(n, capacity int) int {
	per := MaxChunkPayload(capacity)
	if per <= 0 {
		return 0
	}
	return (n + per - 1) / per
}
