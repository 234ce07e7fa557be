package reader

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniyakcom/dsui/core"
)

type streamBuilder struct {
	buf bytes.Buffer
}

func newStream() *streamBuilder {
	sb := &streamBuilder{}
	h := core.FileHeader{Version: core.FormatVersion, PID: 42, WallNS: 1000, MonoNS: 10}
	sb.buf.Write(h.Encode())
	return sb
}

func (sb *streamBuilder) record(seq, ip, tag uint32, payload []byte) {
	h := core.Header{TimeStamp: uint64(seq) * 10, Seq: seq, IPID: ip, Tag: tag, PID: 1, DataLen: uint32(len(payload))}
	var b [core.HeaderSize]byte
	h.Put(b[:])
	sb.buf.Write(b[:])
	sb.buf.Write(payload)
}

func (sb *streamBuilder) chunk(seq, owner, ownerID, idx uint32, total int, part []byte) {
	var c [core.ChunkHeaderSize]byte
	ch := core.ChunkHeader{OwnerSeq: owner, OwnerID: ownerID, ChunkSeq: idx, TotalLen: uint32(total), ChunkLen: uint32(len(part))}
	ch.Put(c[:])
	sb.record(seq, core.ExtraDataID, 0, append(c[:], part...))
}

func (sb *streamBuilder) owner(seq, ip uint32) {
	h := core.Header{Seq: seq, IPID: ip, DataLen: core.DataElsewhere}
	var b [core.HeaderSize]byte
	h.Put(b[:])
	sb.buf.Write(b[:])
}

// TestReadAllPlain 测试读取未压缩的日志文件
func TestReadAllPlain(t *testing.T) {
	sb := newStream()
	sb.record(1, 16, 7, []byte("hello"))
	sb.record(2, 17, uint32(core.KindCounter), core.CounterValue{Count: 6, FirstUpdate: 1, LastUpdate: 2}.Encode())
	sb.record(3, 16, 0, nil)

	hdr, recs, err := ReadAll(&sb.buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), hdr.PID)
	require.Len(t, recs, 3)
	assert.Equal(t, "hello", string(recs[0].Payload))
	assert.Equal(t, uint32(7), recs[0].Tag)

	assert.Equal(t, core.KindCounter, recs[1].Kind())
	c, err := recs[1].Counter()
	require.NoError(t, err)
	assert.Equal(t, int64(6), c.Count)

	assert.Empty(t, recs[2].Payload)
}

// TestReassembleChunks 测试超大负载的分片重组
func TestReassembleChunks(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 10)
	sb := newStream()
	sb.record(1, 16, 0, []byte("before"))
	sb.chunk(2, 5, 20, 0, len(payload), payload[:40])
	sb.chunk(3, 5, 20, 1, len(payload), payload[40:80])
	sb.chunk(4, 5, 20, 2, len(payload), payload[80:])
	sb.owner(5, 20)
	sb.record(6, 16, 0, []byte("after"))

	_, recs, err := ReadAll(&sb.buf)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	big := recs[1]
	assert.Equal(t, uint32(20), big.IPID)
	assert.Equal(t, 3, big.Chunks)
	assert.False(t, big.Incomplete)
	assert.Equal(t, payload, big.Payload)
}

// TestOwnerWithoutChunks 测试首片缺失的记录标记为不完整，无主分片计为孤儿
func TestOwnerWithoutChunks(t *testing.T) {
	sb := newStream()
	sb.chunk(1, 3, 20, 1, 10, []byte("tail"))
	sb.owner(3, 20)
	sb.chunk(4, 9, 20, 0, 4, []byte("lost"))

	r, err := New(&sb.buf)
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.True(t, rec.Incomplete, "chunk 0 missing")
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, r.Orphans())
}

// TestTruncatedAndCorrupt 测试截断与损坏的输入
func TestTruncatedAndCorrupt(t *testing.T) {
	sb := newStream()
	sb.record(1, 16, 0, []byte("abcdef"))
	raw := sb.buf.Bytes()
	_, _, err := ReadAll(bytes.NewReader(raw[:len(raw)-2]))
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = ReadAll(bytes.NewReader([]byte("nope")))
	assert.ErrorIs(t, err, ErrTruncated)

	bad := bytes.Repeat([]byte{0}, core.FileHeaderSize)
	_, _, err = ReadAll(bytes.NewReader(bad))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	sb = newStream()
	sb.record(1, core.ExtraDataID, 0, []byte("short"))
	_, _, err = ReadAll(&sb.buf)
	assert.ErrorIs(t, err, ErrCorrupt)
}

// TestZstdDetection 测试自动识别 zstd 压缩
func TestZstdDetection(t *testing.T) {
	sb := newStream()
	sb.record(1, 16, 0, []byte("compressed"))

	path := filepath.Join(t.TempDir(), "trace.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write(sb.buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint32(42), r.Header().PID)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "compressed", string(rec.Payload))
}

// TestSortBySeq 测试按序号恢复全序
func TestSortBySeq(t *testing.T) {
	recs := []Record{{Header: core.Header{Seq: 3}}, {Header: core.Header{Seq: 1}}, {Header: core.Header{Seq: 2}}}
	SortBySeq(recs)
	for i, r := range recs {
		assert.Equal(t, uint32(i+1), r.Seq)
	}
}
