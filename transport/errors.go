package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/xiabin827/goscpi/vxi11"
)

// 标准错误
var (
	ErrTimeout         = errors.New("transport: timeout")
	ErrConnectionReset = errors.New("transport: connection reset")
	ErrClosed          = errors.New("transport: closed")
	ErrShortRead       = errors.New("transport: message ended before requested length")
	ErrProtocolDecode  = errors.New("transport: protocol decode error")
	ErrInvalidResource = errors.New("transport: invalid resource string")
)

// IOError 表示无法归类的底层 I/O 错误。
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// classify 将底层错误归类到标准错误，原始错误保留在错误链中。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionReset) ||
		errors.Is(err, ErrClosed) || errors.Is(err, ErrShortRead) || errors.Is(err, ErrProtocolDecode) {
		return err
	}

	var ne net.Error
	switch {
	case errors.Is(err, vxi11.ErrProtocolDecode):
		return fmt.Errorf("%s: %w: %w", op, ErrProtocolDecode, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, vxi11.ErrTimeout),
		errors.Is(err, vxi11.ErrAborted),
		errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%s: %w: %w", op, ErrConnectionReset, err)
	case errors.Is(err, vxi11.ErrClosed):
		return fmt.Errorf("%s: %w: %w", op, ErrClosed, err)
	}
	return &IOError{Op: op, Err: err}
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
