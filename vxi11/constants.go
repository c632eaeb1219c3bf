// Package vxi11 实现 VXI-11 (TCP/IP Instrument Protocol, VXIbus 规范 VXI-11 1.0) 客户端，
// 直接基于 ONC-RPC 记录标记和 XDR 编码，不依赖通用 RPC 库。
package vxi11

import "fmt"

// 协议常量
const (
	// DEVICE_CORE 程序（规范 B.6.2）
	CoreProgram uint32 = 0x0607AF // 395183
	CoreVersion uint32 = 1

	// DEVICE_ASYNC 程序，即 abort 通道
	AbortProgram uint32 = 0x0607B0 // 395184
	AbortVersion uint32 = 1

	// DEVICE_INTR 程序（SRQ 回调，本客户端不使用）
	InterruptProgram uint32 = 0x0607B1 // 395185
	InterruptVersion uint32 = 1

	// portmapper（RFC 1833）
	PortmapProgram uint32 = 100000
	PortmapVersion uint32 = 2
	PortmapPort           = 111

	// portmapper 中的传输协议编号
	IPProtoTCP uint32 = 6
	IPProtoUDP uint32 = 17

	// ONC-RPC 版本（RFC 5531）
	RPCVersion uint32 = 2

	// 默认设备名（规范 B.1.2）
	DefaultDevice = "inst0"

	// 服务器报告 maxRecvSize 为 0 时使用的安全默认值
	DefaultMaxRecvSize uint32 = 1024

	// 单次 device_read 的默认请求大小
	DefaultReadSize uint32 = 64 * 1024

	// 单条 RPC 记录的上限，防止恶意长度导致内存耗尽
	MaxRecordSize = 16 * 1024 * 1024

	// 记录标记中的"最后片段"位
	lastFragment uint32 = 0x80000000
)

// DEVICE_CORE / DEVICE_ASYNC 过程编号（规范 B.6）
const (
	ProcDeviceAbort     uint32 = 1
	ProcCreateLink      uint32 = 10
	ProcDeviceWrite     uint32 = 11
	ProcDeviceRead      uint32 = 12
	ProcDeviceReadStb   uint32 = 13
	ProcDeviceTrigger   uint32 = 14
	ProcDeviceClear     uint32 = 15
	ProcDeviceRemote    uint32 = 16
	ProcDeviceLocal     uint32 = 17
	ProcDeviceLock      uint32 = 18
	ProcDeviceUnlock    uint32 = 19
	ProcDeviceEnableSrq uint32 = 20
	ProcDeviceDoCmd     uint32 = 22
	ProcDestroyLink     uint32 = 23
	ProcCreateIntrChan  uint32 = 25
	ProcDestroyIntrChan uint32 = 26

	pmapProcGetPort uint32 = 3
)

// 过程名称（用于调试）
var procNames = map[uint32]string{
	ProcCreateLink:      "create_link",
	ProcDeviceWrite:     "device_write",
	ProcDeviceRead:      "device_read",
	ProcDeviceReadStb:   "device_readstb",
	ProcDeviceTrigger:   "device_trigger",
	ProcDeviceClear:     "device_clear",
	ProcDeviceRemote:    "device_remote",
	ProcDeviceLocal:     "device_local",
	ProcDeviceLock:      "device_lock",
	ProcDeviceUnlock:    "device_unlock",
	ProcDeviceEnableSrq: "device_enable_srq",
	ProcDeviceDoCmd:     "device_docmd",
	ProcDestroyLink:     "destroy_link",
	ProcCreateIntrChan:  "create_intr_chan",
	ProcDestroyIntrChan: "destroy_intr_chan",
}

// ProcName 返回 DEVICE_CORE 过程的可读名称。
// device_abort 属于 abort 通道，编号与 core 通道不冲突，单独处理。
func ProcName(proc uint32) string {
	if proc == ProcDeviceAbort {
		return "device_abort"
	}
	if name, ok := procNames[proc]; ok {
		return name
	}
	return fmt.Sprintf("proc(%d)", proc)
}

// Device_Flags 位（规范 B.5.3）
const (
	FlagWaitLock    uint32 = 0x01 // 锁被占用时等待 lock_timeout
	FlagEnd         uint32 = 0x08 // 写入的最后一个字节带 END
	FlagTermCharSet uint32 = 0x80 // 读取时 termChar 有效
)

// device_read 的结束原因位（规范 B.6.12）
const (
	ReasonReqCnt uint32 = 0x01 // 已传输 requestSize 字节
	ReasonChr    uint32 = 0x02 // 匹配到终止字符
	ReasonEnd    uint32 = 0x04 // 读到 END 指示
)

// ONC-RPC 消息常量（RFC 5531 第 9 节）
const (
	msgCall  uint32 = 0
	msgReply uint32 = 1

	replyAccepted uint32 = 0
	replyDenied   uint32 = 1

	AcceptSuccess      uint32 = 0
	AcceptProgUnavail  uint32 = 1
	AcceptProgMismatch uint32 = 2
	AcceptProcUnavail  uint32 = 3
	AcceptGarbageArgs  uint32 = 4
	AcceptSystemErr    uint32 = 5

	rejectRPCMismatch uint32 = 0
	rejectAuthError   uint32 = 1

	authNull uint32 = 0
)
