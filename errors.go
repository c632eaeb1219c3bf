package goscpi

import (
	"errors"
	"fmt"
)

// 标准错误
var (
	ErrSessionTainted     = errors.New("scpi: session tainted by a failed query, drain the error queue first")
	ErrSessionBroken      = errors.New("scpi: session broken by a protocol decode error")
	ErrSessionClosed      = errors.New("scpi: session closed")
	ErrTransportInUse     = errors.New("scpi: transport already owned by another session")
	ErrWriteFailed        = errors.New("scpi: write failed")
	ErrReadFailed         = errors.New("scpi: read failed")
	ErrOperationTimeout   = errors.New("scpi: operation complete timeout")
	ErrErrorQueueOverflow = errors.New("scpi: error queue did not drain")
	ErrMalformedReply     = errors.New("scpi: malformed reply")
	ErrTruncatedBlock     = errors.New("scpi: truncated binary block")
	ErrProtocolDecode     = errors.New("scpi: protocol decode error")
)

// InstrumentError 是从仪器错误队列读出的一条错误。
type InstrumentError struct {
	Code    int
	Message string
}

func (e InstrumentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("instrument error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("instrument error %d", e.Code)
}

// ReplyError 表示无法按预期类型解析的应答。
type ReplyError struct {
	Reply  string
	Expect string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("scpi: malformed reply %q: expected %s", e.Reply, e.Expect)
}

func (e *ReplyError) Is(target error) bool { return target == ErrMalformedReply }

func malformed(reply, expect string) error {
	return &ReplyError{Reply: reply, Expect: expect}
}
