package vxi11

import (
	"errors"
	"fmt"
)

// 标准错误
var (
	ErrClosed         = errors.New("vxi11: connection closed")
	ErrNotConnected   = errors.New("vxi11: not connected")
	ErrTimeout        = errors.New("vxi11: operation timeout")
	ErrNoLink         = errors.New("vxi11: no device link")
	ErrLinkExists     = errors.New("vxi11: device link already created")
	ErrLinkCreation   = errors.New("vxi11: link creation failed")
	ErrWrite          = errors.New("vxi11: device write failed")
	ErrLockTimeout    = errors.New("vxi11: lock acquisition timeout")
	ErrNotLocked      = errors.New("vxi11: no lock held by this link")
	ErrAborted        = errors.New("vxi11: operation aborted")
	ErrLinkAborted    = errors.New("vxi11: link unusable after abort, destroy and reconnect")
	ErrNoAbortChannel = errors.New("vxi11: abort channel not available")
	ErrCallInFlight   = errors.New("vxi11: another call is in flight on the core channel")
	ErrProtocolDecode = errors.New("vxi11: protocol decode error")
	ErrRecordTooLarge = errors.New("vxi11: rpc record too large")
	ErrNotRegistered  = errors.New("vxi11: program not registered with portmapper")
)

// 设备错误码（规范 B.5.4）
const (
	DevErrNoError               uint32 = 0
	DevErrSyntax                uint32 = 1
	DevErrDeviceNotAccessible   uint32 = 3
	DevErrInvalidLinkIdentifier uint32 = 4
	DevErrParameter             uint32 = 5
	DevErrChannelNotEstablished uint32 = 6
	DevErrOperationNotSupported uint32 = 8
	DevErrOutOfResources        uint32 = 9
	DevErrDeviceLocked          uint32 = 11
	DevErrNoLockHeld            uint32 = 12
	DevErrIOTimeout             uint32 = 15
	DevErrIO                    uint32 = 17
	DevErrInvalidAddress        uint32 = 21
	DevErrAbort                 uint32 = 23
	DevErrChannelAlreadyExists  uint32 = 29
)

// deviceErrorNames 将设备错误码映射到描述
var deviceErrorNames = map[uint32]string{
	DevErrSyntax:                "syntax error",
	DevErrDeviceNotAccessible:   "device not accessible",
	DevErrInvalidLinkIdentifier: "invalid link identifier",
	DevErrParameter:             "parameter error",
	DevErrChannelNotEstablished: "channel not established",
	DevErrOperationNotSupported: "operation not supported",
	DevErrOutOfResources:        "out of resources",
	DevErrDeviceLocked:          "device locked by another link",
	DevErrNoLockHeld:            "no lock held by this link",
	DevErrIOTimeout:             "I/O timeout",
	DevErrIO:                    "I/O error",
	DevErrInvalidAddress:        "invalid address",
	DevErrAbort:                 "abort",
	DevErrChannelAlreadyExists:  "channel already established",
}

// DeviceError 表示服务器在 Device_Error 中返回的非零错误码。
type DeviceError struct {
	Op   string
	Code uint32
}

func (e *DeviceError) Error() string {
	desc := deviceErrorNames[e.Code]
	if desc == "" {
		desc = fmt.Sprintf("unknown error code %d", e.Code)
	}
	return fmt.Sprintf("vxi11: %s: device error %d: %s", e.Op, e.Code, desc)
}

// Is 让调用方可以用 errors.Is 匹配有对应语义的标准错误。
func (e *DeviceError) Is(target error) bool {
	switch e.Code {
	case DevErrIOTimeout:
		return target == ErrTimeout
	case DevErrDeviceLocked:
		return target == ErrLockTimeout
	case DevErrNoLockHeld:
		return target == ErrNotLocked
	case DevErrAbort:
		return target == ErrAborted
	}
	return false
}

// NewDeviceError 创建新的 DeviceError；code 为 0 时返回 nil。
func NewDeviceError(op string, code uint32) error {
	if code == DevErrNoError {
		return nil
	}
	return &DeviceError{Op: op, Code: code}
}

// IsDeviceError 检查 err 是否为 DeviceError。
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// RPCError 表示 ONC-RPC 层面的拒绝或非成功的接受状态。
type RPCError struct {
	Xid      uint32
	Accepted bool
	Stat     uint32
	Low      uint32 // 版本不匹配时服务器支持的范围
	High     uint32
}

var acceptStatNames = map[uint32]string{
	AcceptProgUnavail:  "program unavailable",
	AcceptProgMismatch: "program version mismatch",
	AcceptProcUnavail:  "procedure unavailable",
	AcceptGarbageArgs:  "garbage arguments",
	AcceptSystemErr:    "system error",
}

func (e *RPCError) Error() string {
	if !e.Accepted {
		if e.Stat == rejectRPCMismatch {
			return fmt.Sprintf("vxi11: rpc denied: rpc version mismatch (supported %d-%d)", e.Low, e.High)
		}
		return fmt.Sprintf("vxi11: rpc denied: auth error %d", e.Stat)
	}
	desc := acceptStatNames[e.Stat]
	if desc == "" {
		desc = fmt.Sprintf("accept status %d", e.Stat)
	}
	if e.Stat == AcceptProgMismatch {
		return fmt.Sprintf("vxi11: rpc %s (supported %d-%d)", desc, e.Low, e.High)
	}
	return "vxi11: rpc " + desc
}

// IsRPCError 检查 err 是否为 RPCError。
func IsRPCError(err error) bool {
	var re *RPCError
	return errors.As(err, &re)
}

// ProtocolError 表示无法解码的 RPC 数据，属于致命错误。
type ProtocolError struct {
	Operation string
	Expected  string
	Got       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("vxi11 protocol error during %s: expected %s, got %s",
		e.Operation, e.Expected, e.Got)
}

// Is 使 errors.Is(err, ErrProtocolDecode) 成立。
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocolDecode
}

// NewProtocolError 创建新的 ProtocolError。
func NewProtocolError(op, expected, got string) *ProtocolError {
	return &ProtocolError{
		Operation: op,
		Expected:  expected,
		Got:       got,
	}
}

// LinkError 表示 create_link 失败。
type LinkError struct {
	Device string
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("vxi11: create link %q: %v", e.Device, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

func (e *LinkError) Is(target error) bool { return target == ErrLinkCreation }

// WriteError 表示分块写入中某一块失败；不报告部分成功。
type WriteError struct {
	Offset int // 失败块在数据中的起始偏移
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("vxi11: device write at offset %d: %v", e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }
