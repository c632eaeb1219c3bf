// Package transport 提供与仪器交换字节的统一接口：原始 TCP（SCPI-RAW）、串口和 VXI-11。
//
// 所有阻塞操作都接受 context.Context，超时由 ctx 截止时间与传输配置的 Timeout 中较早者决定；
// WithTimeout 可以为单次调用替换 Timeout。
// 传输不是并发安全的，由上层会话独占使用。
package transport

import (
	"context"
	"time"
)

// Transport 是面向消息的字节传输。
type Transport interface {
	// Write 写入全部字节或返回错误。
	Write(ctx context.Context, p []byte) error

	// ReadUntil 读取直到遇到 term，返回不含 term 的字节；term 之后的数据保留给下次读取。
	// 对于带消息结束指示的传输（VXI-11），消息结束时返回已有数据并去掉末尾的 term。
	ReadUntil(ctx context.Context, term []byte) ([]byte, error)

	// ReadFull 精确读取 n 字节。消息在 n 字节前结束时返回 ErrShortRead。
	ReadFull(ctx context.Context, n int) ([]byte, error)

	// Close 关闭传输。
	Close() error
}

// Clearer 由可以丢弃未读数据的传输实现（设备清除或清空输入缓冲）。
type Clearer interface {
	Clear(ctx context.Context) error
}

// MessageFramer 由能报告消息边界的传输实现。
// EndOfMessage 在最近一次读取恰好消耗到一条消息末尾时返回 true。
type MessageFramer interface {
	EndOfMessage() bool
}

// DefaultTimeout 是传输单次 I/O 的默认超时。Timeout 不大于 0 时使用该值。
const DefaultTimeout = 5 * time.Second

type timeoutKey struct{}

// WithTimeout 返回一个 ctx，在它上面进行的读写用 d 代替传输配置的 Timeout。
// 单次操作需要比常规 I/O 更长的等待（例如 *OPC?）时使用；ctx 截止时间仍然生效。
func WithTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

// MessageReader 由带消息结束指示的传输实现（VXI-11 的 END）。
// ReadMessage 读取到当前消息结束为止，数据中的终止符字节原样保留。
type MessageReader interface {
	ReadMessage(ctx context.Context) ([]byte, error)
}

// deadlineFor 返回 ctx 截止时间与 now+timeout 中较早的一个；两者都没有时返回零值。
// ctx 通过 WithTimeout 携带了超时时用它代替 timeout。
func deadlineFor(ctx context.Context, timeout time.Duration) time.Time {
	if d, ok := ctx.Value(timeoutKey{}).(time.Duration); ok && d > 0 {
		timeout = d
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		return ctxDeadline
	}
	return deadline
}
