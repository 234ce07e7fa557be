package writer

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/uniyakcom/dsui/core"
)

// fileSink 带缓冲的文件 sink
type fileSink struct {
	f  *os.File
	bw *bufio.Writer
}

func (s *fileSink) Write(p []byte) (int, error) { return s.bw.Write(p) }

func (s *fileSink) Flush() error { return s.bw.Flush() }

func (s *fileSink) Close() error {
	err := s.bw.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// zstdSink 压缩文件 sink；Flush 结束当前 zstd block
type zstdSink struct {
	f   *os.File
	enc *zstd.Encoder
}

func (s *zstdSink) Write(p []byte) (int, error) { return s.enc.Write(p) }

func (s *zstdSink) Flush() error { return s.enc.Flush() }

func (s *zstdSink) Close() error {
	err := s.enc.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenFile 打开（截断）文件 sink；compress 为 true 时以 zstd 流写出
// 返回的 sink 实现 Flush，Writer.Sync 会调用它。
func OpenFile(path string, compress bool) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, core.SinkError("writer.OpenFile", err)
	}
	if !compress {
		return &fileSink{f: f, bw: bufio.NewWriterSize(f, 64*1024)}, nil
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, core.SinkError("writer.OpenFile", err)
	}
	return &zstdSink{f: f, enc: enc}, nil
}

// DefaultDialTimeout socket sink 默认连接超时
const DefaultDialTimeout = 5 * time.Second

// Dial 连接 TCP socket sink
func Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	if port <= 0 || port > 65535 {
		return nil, core.Errorf("writer.Dial", core.ErrInvalidConfig, "port %d out of range", port)
	}
	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, core.SinkError("writer.Dial", err)
	}
	return conn, nil
}
