package vxi11

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Conn 封装一条 ONC-RPC/TCP 连接，提供带缓冲的记录读写和 xid 匹配。
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	mu     sync.Mutex // 同一连接上的调用串行执行
	xid    atomic.Uint32
}

// NewConn 创建一个新的 Conn，封装给定的 net.Conn。
func NewConn(c net.Conn) *Conn {
	conn := &Conn{
		raw:    c,
		reader: bufio.NewReader(c),
		writer: bufio.NewWriter(c),
	}
	// 以时间为种子，避免重连后的 xid 与旧应答重合
	conn.xid.Store(uint32(time.Now().UnixNano()))
	return conn
}

// DialConn 使用 context 连接到 address 上的 RPC 服务。
func DialConn(ctx context.Context, address string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewConn(conn), nil
}

// Call 发送一次 RPC 调用并等待 xid 匹配的应答，返回过程结果。
// deadline 为零表示不设置套接字超时。xid 不匹配的应答（超时后迟到的旧应答）被丢弃。
func (c *Conn) Call(prog, vers, proc uint32, args []byte, deadline time.Time) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	xid := c.xid.Add(1)
	e := NewEncoder()
	(&CallHeader{Xid: xid, Program: prog, Version: vers, Procedure: proc}).Encode(e)
	e.Append(args)

	if err := c.raw.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer c.raw.SetDeadline(time.Time{})

	if err := WriteRecord(c.writer, e.Bytes()); err != nil {
		return nil, err
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("flush call: %w", err)
	}

	for {
		rec, err := ReadRecord(c.reader)
		if err != nil {
			return nil, err
		}
		d := NewDecoder(rec)
		h, err := ParseReply(d)
		if err != nil {
			return nil, err
		}
		if h.Xid != xid {
			continue
		}
		if err := h.Err(); err != nil {
			return nil, err
		}
		return d.Remaining(), nil
	}
}

// Interrupt 让正在进行的调用立即以超时返回。
func (c *Conn) Interrupt() error {
	return c.raw.SetDeadline(time.Now())
}

// Close 关闭底层连接。
func (c *Conn) Close() error {
	return c.raw.Close()
}

// LocalAddr 返回本地网络地址。
func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

// RemoteAddr 返回远程网络地址。
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
