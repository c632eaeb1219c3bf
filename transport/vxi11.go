package transport

import (
	"context"
	"log"
	"time"

	"github.com/xiabin827/goscpi/vxi11"
)

// VXI11Config 保存 VXI-11 传输的配置。
type VXI11Config struct {
	// Device 设备名（默认 "inst0"）
	Device string

	// Timeout 设备 I/O 超时（默认 5s），作为 device_write/device_read 的 io_timeout
	Timeout time.Duration

	// LockTimeout 链路上操作的 lock_timeout（默认 0）
	LockTimeout time.Duration

	// ReadSize 每次 device_read 的请求大小（默认 64KiB）
	ReadSize uint32

	// CorePort 直接指定核心通道端口（0 表示通过 portmapper 查询）
	CorePort int

	// PortmapPort portmapper 端口（0 表示 111）
	PortmapPort int

	// Logger 用于调试输出（nil 禁用日志）
	Logger *log.Logger
}

// DefaultVXI11Config 返回带默认值的 VXI11Config。
func DefaultVXI11Config() *VXI11Config {
	return &VXI11Config{
		Device:   vxi11.DefaultDevice,
		Timeout:  DefaultTimeout,
		ReadSize: vxi11.DefaultReadSize,
	}
}

// VXI11 是基于 VXI-11 链路的传输。消息边界由 device_read 的 END/CHR 原因决定。
type VXI11 struct {
	client *vxi11.Client
	config *VXI11Config
	fr     frameReader
}

// DialVXI11 连接到 host 并创建设备链路。
func DialVXI11(ctx context.Context, host string, config *VXI11Config) (*VXI11, error) {
	if config == nil {
		config = DefaultVXI11Config()
	}
	if config.Device == "" {
		config.Device = vxi11.DefaultDevice
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	cc := vxi11.DefaultConfig()
	cc.CorePort = config.CorePort
	cc.PortmapPort = config.PortmapPort
	cc.LockTimeout = config.LockTimeout
	cc.Logger = config.Logger

	client, err := vxi11.Dial(ctx, host, config.Device, cc)
	if err != nil {
		return nil, classify("dial "+host, err)
	}
	return newVXI11(client, config), nil
}

func newVXI11(client *vxi11.Client, config *VXI11Config) *VXI11 {
	t := &VXI11{client: client, config: config}
	t.fr.fill = t.fill
	return t
}

// Write 将 p 作为一条消息写入（最后一块带 END）。
func (t *VXI11) Write(ctx context.Context, p []byte) error {
	_, err := t.client.Write(ctx, p, t.ioTimeout(ctx))
	return classify("write", err)
}

// ReadUntil 读取到 term 或消息结束。
func (t *VXI11) ReadUntil(ctx context.Context, term []byte) ([]byte, error) {
	return t.fr.readUntil(ctx, term, deadlineFor(ctx, t.config.Timeout))
}

// ReadFull 精确读取 n 字节；消息提前结束时返回 ErrShortRead。
func (t *VXI11) ReadFull(ctx context.Context, n int) ([]byte, error) {
	return t.fr.readFull(ctx, n, deadlineFor(ctx, t.config.Timeout))
}

// ReadMessage 读取到 END 为止，不按终止符切分。
func (t *VXI11) ReadMessage(ctx context.Context) ([]byte, error) {
	return t.fr.readUntil(ctx, nil, deadlineFor(ctx, t.config.Timeout))
}

func (t *VXI11) fill(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
	timeout := time.Until(deadline)
	if deadline.IsZero() {
		timeout = t.config.Timeout
	}
	data, reason, err := t.client.Read(ctx, t.config.ReadSize, timeout, nil)
	if err != nil {
		return nil, false, classify("read", err)
	}
	return data, reason.Done(), nil
}

// ioTimeout 返回发送给服务器的 io_timeout：配置值与 ctx 剩余时间中较小者。
func (t *VXI11) ioTimeout(ctx context.Context) time.Duration {
	return time.Until(deadlineFor(ctx, t.config.Timeout))
}

// Clear 发送 device_clear 并丢弃缓冲数据。
func (t *VXI11) Clear(ctx context.Context) error {
	t.fr.reset()
	return classify("clear", t.client.Clear(ctx))
}

// EndOfMessage 报告最近一次读取是否恰好消耗到 END。
func (t *VXI11) EndOfMessage() bool { return t.fr.eom }

// Lock 获取设备锁。
func (t *VXI11) Lock(ctx context.Context, timeout time.Duration) error {
	return t.client.Lock(ctx, timeout)
}

// Unlock 释放设备锁。
func (t *VXI11) Unlock(ctx context.Context) error {
	return t.client.Unlock(ctx)
}

// ReadStatusByte 读取状态字节。
func (t *VXI11) ReadStatusByte(ctx context.Context) (byte, error) {
	return t.client.ReadStatusByte(ctx)
}

// Trigger 发送设备触发。
func (t *VXI11) Trigger(ctx context.Context) error {
	return t.client.Trigger(ctx)
}

// Remote 将设备置于远程状态。
func (t *VXI11) Remote(ctx context.Context) error {
	return t.client.Remote(ctx)
}

// Local 将设备置于本地状态。
func (t *VXI11) Local(ctx context.Context) error {
	return t.client.Local(ctx)
}

// Abort 中止进行中的调用。
func (t *VXI11) Abort(ctx context.Context) error {
	return t.client.Abort(ctx)
}

// Link 返回底层链路信息。
func (t *VXI11) Link() *vxi11.Link {
	return t.client.Link()
}

// Close 销毁链路并关闭连接；销毁失败只记录日志。
func (t *VXI11) Close() error {
	return t.client.Close()
}
