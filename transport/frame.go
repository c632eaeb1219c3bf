package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

// fillFunc 从底层链路读取更多数据。end 表示数据结束了一条消息（仅 VXI-11 报告）。
// 空闲（没有数据也没有错误）时返回空切片，由调用方检查截止时间。
type fillFunc func(ctx context.Context, deadline time.Time) (data []byte, end bool, err error)

// frameReader 是三种传输共用的读缓冲：按终止符或长度切分，剩余数据留给下次读取。
type frameReader struct {
	buf  []byte
	end  bool // buf 的末尾是一条消息的结束
	eom  bool // 最近一次读取恰好消耗到消息结束
	fill fillFunc
}

func (r *frameReader) readUntil(ctx context.Context, term []byte, deadline time.Time) ([]byte, error) {
	r.eom = false
	for {
		if len(term) > 0 {
			if i := bytes.Index(r.buf, term); i >= 0 {
				out := bytes.Clone(r.buf[:i])
				r.consume(i + len(term))
				return out, nil
			}
		}
		if r.end {
			out := bytes.Clone(r.buf)
			r.consume(len(r.buf))
			return out, nil
		}
		if err := r.more(ctx, deadline); err != nil {
			return nil, err
		}
	}
}

func (r *frameReader) readFull(ctx context.Context, n int, deadline time.Time) ([]byte, error) {
	r.eom = false
	for len(r.buf) < n {
		if r.end {
			short := len(r.buf)
			r.consume(short)
			return nil, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, short, n)
		}
		if err := r.more(ctx, deadline); err != nil {
			return nil, err
		}
	}
	out := bytes.Clone(r.buf[:n])
	r.consume(n)
	return out, nil
}

// more 调用一次 fill，并在截止时间已过或 ctx 结束时返回错误。
func (r *frameReader) more(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("read: %w: %w", ErrTimeout, err)
		}
		return err
	}
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return fmt.Errorf("read: %w", ErrTimeout)
	}
	data, end, err := r.fill(ctx, deadline)
	r.buf = append(r.buf, data...)
	if end {
		r.end = true
	}
	return err
}

func (r *frameReader) consume(n int) {
	r.buf = r.buf[n:]
	if len(r.buf) == 0 {
		r.buf = nil
		if r.end {
			r.eom = true
		}
		r.end = false
	}
}

// reset 丢弃所有缓冲数据。
func (r *frameReader) reset() {
	r.buf = nil
	r.end = false
	r.eom = false
}

// Buffered 返回缓冲中尚未读取的字节数。
func (r *frameReader) Buffered() int {
	return len(r.buf)
}
