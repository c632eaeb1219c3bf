package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// DefaultTCPPort 是 SCPI-RAW 的常用端口。
const DefaultTCPPort = 5025

// TCPConfig 保存原始 TCP 传输的配置。
type TCPConfig struct {
	// Timeout 单次读写的超时（默认 5s）
	Timeout time.Duration

	// ReadBufferSize 每次从套接字读取的最大字节数（默认 4096）
	ReadBufferSize int

	// Logger 用于调试输出（nil 禁用日志）
	Logger *log.Logger
}

// DefaultTCPConfig 返回带默认值的 TCPConfig。
func DefaultTCPConfig() *TCPConfig {
	return &TCPConfig{
		Timeout:        DefaultTimeout,
		ReadBufferSize: 4096,
	}
}

// TCP 是基于原始 TCP 流的传输，消息边界只由终止符决定。
type TCP struct {
	conn   net.Conn
	config *TCPConfig
	fr     frameReader
	rbuf   []byte

	mu     sync.Mutex
	closed bool
}

// DialTCP 连接到 address；未指定端口时使用 5025。
func DialTCP(ctx context.Context, address string, config *TCPConfig) (*TCP, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host = address
		port = fmt.Sprintf("%d", DefaultTCPPort)
	}
	address = net.JoinHostPort(host, port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, classify("dial "+address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	t := NewTCP(conn, config)
	t.log("connected to %s", address)
	return t, nil
}

// NewTCP 用已有连接创建 TCP 传输。
func NewTCP(conn net.Conn, config *TCPConfig) *TCP {
	if config == nil {
		config = DefaultTCPConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	size := config.ReadBufferSize
	if size <= 0 {
		size = 4096
	}
	t := &TCP{
		conn:   conn,
		config: config,
		rbuf:   make([]byte, size),
	}
	t.fr.fill = t.fill
	return t
}

// Write 写入全部字节，短写时继续写剩余部分。
func (t *TCP) Write(ctx context.Context, p []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	if err := t.conn.SetWriteDeadline(deadlineFor(ctx, t.config.Timeout)); err != nil {
		return classify("write", err)
	}
	for len(p) > 0 {
		n, err := t.conn.Write(p)
		p = p[n:]
		if err != nil {
			return classify("write", err)
		}
	}
	return nil
}

// ReadUntil 读取直到 term，返回不含 term 的字节。
func (t *TCP) ReadUntil(ctx context.Context, term []byte) ([]byte, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	return t.fr.readUntil(ctx, term, deadlineFor(ctx, t.config.Timeout))
}

// ReadFull 精确读取 n 字节。
func (t *TCP) ReadFull(ctx context.Context, n int) ([]byte, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	return t.fr.readFull(ctx, n, deadlineFor(ctx, t.config.Timeout))
}

func (t *TCP) fill(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, false, classify("read", err)
	}
	n, err := t.conn.Read(t.rbuf)
	return t.rbuf[:n], false, classify("read", err)
}

// Clear 丢弃缓冲数据，并在短时间内排空套接字中迟到的应答。
func (t *TCP) Clear(ctx context.Context) error {
	if t.isClosed() {
		return ErrClosed
	}
	t.fr.reset()
	deadline := time.Now().Add(50 * time.Millisecond)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return classify("clear", err)
	}
	defer t.conn.SetReadDeadline(time.Time{})
	drained := 0
	for {
		n, err := t.conn.Read(t.rbuf)
		drained += n
		if err != nil {
			if err := classify("clear", err); !isTimeout(err) {
				return err
			}
			break
		}
	}
	if drained > 0 {
		t.log("clear: discarded %d stale bytes", drained)
	}
	return nil
}

// EndOfMessage 对原始 TCP 总是 false，流中没有消息边界。
func (t *TCP) EndOfMessage() bool { return false }

// Buffered 返回已读入但尚未被消费的字节数。
func (t *TCP) Buffered() int { return t.fr.Buffered() }

// Close 关闭连接。
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *TCP) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// log 在配置了日志记录器时输出调试消息。
func (t *TCP) log(format string, args ...interface{}) {
	if t.config.Logger != nil {
		t.config.Logger.Printf("[tcp] "+format, args...)
	}
}
