package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiabin827/goscpi"
)

// 标准错误
var (
	ErrOutOfRange        = errors.New("instrument: value out of range")
	ErrChannelNotPresent = errors.New("instrument: channel not present")
	ErrTruncatedData     = errors.New("instrument: truncated data")
	ErrNotSupported      = errors.New("instrument: not supported")
	ErrInstrumentFault   = errors.New("instrument: instrument reported an error")
	ErrBadResponse       = errors.New("instrument: bad response")
)

// Kind 是 DeviceError 的类别。
type Kind uint8

const (
	KindInstrumentFault Kind = iota
	KindOutOfRange
	KindChannelNotPresent
	KindTruncatedData
	KindNotSupported
	KindBadResponse
)

var kindErrors = map[Kind]error{
	KindInstrumentFault:   ErrInstrumentFault,
	KindOutOfRange:        ErrOutOfRange,
	KindChannelNotPresent: ErrChannelNotPresent,
	KindTruncatedData:     ErrTruncatedData,
	KindNotSupported:      ErrNotSupported,
	KindBadResponse:       ErrBadResponse,
}

func (k Kind) String() string {
	return kindErrors[k].Error()
}

// DeviceError 是能力调用的失败，Kind 说明失败的含义。
// 由仪器错误队列映射而来时 Errs 保存原始错误。
type DeviceError struct {
	Kind    Kind
	Op      string
	Channel int // 0 表示与通道无关
	Detail  string
	Errs    []goscpi.InstrumentError
	Err     error
}

func (e *DeviceError) Error() string {
	msg := kindErrors[e.Kind].Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Channel > 0 {
		msg += fmt.Sprintf(" CH%d", e.Channel)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	for _, ie := range e.Errs {
		msg += fmt.Sprintf(" [%d %s]", ie.Code, ie.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is 让 errors.Is 可以按类别匹配。
func (e *DeviceError) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

func (e *DeviceError) Unwrap() error { return e.Err }

// NewDeviceError 创建新的 DeviceError。
func NewDeviceError(kind Kind, op string, ch int, detail string) *DeviceError {
	return &DeviceError{Kind: kind, Op: op, Channel: ch, Detail: detail}
}

// IsDeviceError 检查 err 是否为 DeviceError。
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// codeKinds 把标准 SCPI 错误码映射到能力错误类别。
var codeKinds = map[int]Kind{
	-114: KindChannelNotPresent, // header suffix out of range
	-222: KindOutOfRange,        // data out of range
	-224: KindOutOfRange,        // illegal parameter value
	-241: KindChannelNotPresent, // hardware missing
}

// MapInstrumentErrors 把错误队列读出的错误映射为一个 DeviceError；errs 为空时返回 nil。
// 类别取第一个能识别的错误码，都不识别时为 KindInstrumentFault。
func MapInstrumentErrors(op string, ch int, errs []goscpi.InstrumentError) error {
	if len(errs) == 0 {
		return nil
	}
	kind := KindInstrumentFault
	for _, ie := range errs {
		if k, ok := codeKinds[ie.Code]; ok {
			kind = k
			break
		}
	}
	return &DeviceError{Kind: kind, Op: op, Channel: ch, Errs: errs}
}

// Check 读取错误队列并映射为 DeviceError。驱动在认为有风险的命令之后调用。
func Check(ctx context.Context, s Session, op string, ch int) error {
	errs, err := s.CheckErrors(ctx, 0)
	if mapped := MapInstrumentErrors(op, ch, errs); mapped != nil {
		return mapped
	}
	return err
}

// Wrap 把会话错误转换为能力错误：截断的二进制块为 KindTruncatedData，
// 无法解析的应答为 KindBadResponse，其它错误原样返回。
func Wrap(op string, ch int, err error) error {
	switch {
	case err == nil:
		return nil
	case IsDeviceError(err):
		return err
	case errors.Is(err, goscpi.ErrTruncatedBlock):
		return &DeviceError{Kind: KindTruncatedData, Op: op, Channel: ch, Err: err}
	case errors.Is(err, goscpi.ErrMalformedReply):
		return &DeviceError{Kind: KindBadResponse, Op: op, Channel: ch, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
