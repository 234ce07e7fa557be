// Package reader 解码 dsui 输出流
//
// 读取文件头（含时钟校准），逐条解码记录，按所属序号重组 extra-data 分片，
// 并提供有状态记录负载的解码。zstd 压缩的文件按魔数自动识别。
package reader

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/uniyakcom/dsui/core"
)

var (
	// ErrTruncated 记录在中途结束
	ErrTruncated = errors.New("dsui/reader: truncated record")
	// ErrCorrupt 分片与所属记录不一致
	ErrCorrupt = errors.New("dsui/reader: corrupt chunk")
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Record 一条解码后的记录
type Record struct {
	core.Header
	Payload    []byte // 分片记录已被重组进所属记录
	Chunks     int    // 重组使用的分片数
	Incomplete bool   // 分片缺失（如 ring 模式覆盖）
}

// Kind 有状态记录的类型（event_tag）
func (r *Record) Kind() core.Kind { return core.Kind(r.Tag) }

// Counter 解码计数器负载
func (r *Record) Counter() (core.CounterValue, error) { return core.DecodeCounter(r.Payload) }

// Interval 解码区间负载
func (r *Record) Interval() (core.IntervalValue, error) { return core.DecodeInterval(r.Payload) }

// Histogram 解码直方图负载
func (r *Record) Histogram() (core.HistogramValue, error) { return core.DecodeHistogram(r.Payload) }

type assembly struct {
	total int
	parts map[uint32][]byte
	size  int
}

// Reader 记录流解码器
type Reader struct {
	br      *bufio.Reader
	dec     *zstd.Decoder
	closer  io.Closer
	header  core.FileHeader
	pending map[uint32]*assembly
	hdr     [core.HeaderSize]byte
}

// New 从 r 读取文件头并创建 Reader
func New(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	rd := &Reader{pending: make(map[uint32]*assembly)}
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		rd.dec = dec
		br = bufio.NewReaderSize(dec, 64*1024)
	}
	rd.br = br

	var fh [core.FileHeaderSize]byte
	if _, err := io.ReadFull(br, fh[:]); err != nil {
		rd.release()
		return nil, errors.Join(ErrTruncated, err)
	}
	h, err := core.DecodeFileHeader(fh[:])
	if err != nil {
		rd.release()
		return nil, err
	}
	rd.header = h
	return rd, nil
}

// Open 打开文件
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd, err := New(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	rd.closer = f
	return rd, nil
}

// Header 文件头
func (r *Reader) Header() core.FileHeader { return r.header }

// Next 返回下一条用户记录；分片记录被消化并重组进所属记录。流结束返回 io.EOF。
func (r *Reader) Next() (Record, error) {
	for {
		if _, err := io.ReadFull(r.br, r.hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, errors.Join(ErrTruncated, err)
		}
		h := core.DecodeHeader(r.hdr[:])
		var payload []byte
		if n := h.PayloadLen(); n > 0 {
			payload = make([]byte, n)
			if _, err := io.ReadFull(r.br, payload); err != nil {
				return Record{}, errors.Join(ErrTruncated, err)
			}
		}

		if h.IPID == core.ExtraDataID {
			if err := r.addChunk(payload); err != nil {
				return Record{}, err
			}
			continue
		}
		rec := Record{Header: h, Payload: payload}
		if h.Chunked() {
			r.assemble(&rec)
		}
		return rec, nil
	}
}

func (r *Reader) addChunk(payload []byte) error {
	if len(payload) < core.ChunkHeaderSize {
		return ErrCorrupt
	}
	c := core.DecodeChunkHeader(payload)
	data := payload[core.ChunkHeaderSize:]
	if int(c.ChunkLen) != len(data) {
		return ErrCorrupt
	}
	a := r.pending[c.OwnerSeq]
	if a == nil {
		a = &assembly{total: int(c.TotalLen), parts: make(map[uint32][]byte)}
		r.pending[c.OwnerSeq] = a
	}
	if _, dup := a.parts[c.ChunkSeq]; !dup {
		a.parts[c.ChunkSeq] = data
		a.size += len(data)
	}
	return nil
}

// assemble 按分片序号拼接所属记录的负载
func (r *Reader) assemble(rec *Record) {
	a := r.pending[rec.Seq]
	delete(r.pending, rec.Seq)
	if a == nil {
		rec.Incomplete = true
		return
	}
	seqs := make([]uint32, 0, len(a.parts))
	for s := range a.parts {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	buf := make([]byte, 0, a.total)
	for i, s := range seqs {
		if s != uint32(i) {
			rec.Incomplete = true
		}
		buf = append(buf, a.parts[s]...)
	}
	rec.Payload = buf
	rec.Chunks = len(seqs)
	if len(buf) != a.total {
		rec.Incomplete = true
	}
}

// Orphans 没有等到所属记录的分片组数
func (r *Reader) Orphans() int { return len(r.pending) }

func (r *Reader) release() {
	if r.dec != nil {
		r.dec.Close()
	}
}

// Close 释放解码器并关闭底层文件（由 Open 打开时）
func (r *Reader) Close() error {
	r.release()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ReadAll 读取全部记录
func ReadAll(src io.Reader) (core.FileHeader, []Record, error) {
	r, err := New(src)
	if err != nil {
		return core.FileHeader{}, nil, err
	}
	defer r.Close()
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.header, out, nil
		}
		if err != nil {
			return r.header, out, err
		}
		out = append(out, rec)
	}
}

// ReadFile 读取文件中的全部记录
func ReadFile(path string) (core.FileHeader, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.FileHeader{}, nil, err
	}
	defer f.Close()
	return ReadAll(f)
}

// SortBySeq 按序号排序（缓冲路径下不同 buffer 的写出顺序与序号顺序可能不同）
func SortBySeq(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
}
