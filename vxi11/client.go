package vxi11

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ClientConfig 保存创建 Client 的配置。
type ClientConfig struct {
	// ClientID 在 create_link 中发送给服务器（仅用于服务器端标识）
	ClientID int32

	// CorePort 核心通道端口（0 表示通过 portmapper 查询）
	CorePort int

	// PortmapPort portmapper 端口（0 表示 111）
	PortmapPort int

	// Timeout RPC 往返的余量：套接字截止时间 = 设备 I/O 超时 + Timeout（默认 5s）
	Timeout time.Duration

	// LockTimeout 发送给服务器的 lock_timeout（默认 0，锁被占用时立即失败）
	LockTimeout time.Duration

	// AbortGrace 上下文截止后、发送 device_abort 前等待服务器自行超时的时间（默认 500ms）
	AbortGrace time.Duration

	// Logger 用于调试输出（nil 禁用日志）
	Logger *log.Logger
}

// DefaultConfig 返回带默认值的 ClientConfig。
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:    5 * time.Second,
		AbortGrace: 500 * time.Millisecond,
	}
}

// Link 描述一条已建立的设备链路。
type Link struct {
	ID          int32
	Device      string
	AbortPort   int    // 0 表示服务器未提供 abort 通道
	MaxRecvSize uint32 // 单次 device_write 的最大数据量
}

// Reason 是 device_read 的结束原因位集合。
type Reason uint32

// RequestCount 表示读取因达到 requestSize 而结束，消息可能尚未完整。
func (r Reason) RequestCount() bool { return uint32(r)&ReasonReqCnt != 0 }

// Char 表示读取因匹配终止字符而结束。
func (r Reason) Char() bool { return uint32(r)&ReasonChr != 0 }

// End 表示读取到 END 指示。
func (r Reason) End() bool { return uint32(r)&ReasonEnd != 0 }

// Done 表示当前消息已经完整。
func (r Reason) Done() bool { return r.End() || r.Char() }

func (r Reason) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if r.RequestCount() {
		add("REQCNT")
	}
	if r.Char() {
		add("CHR")
	}
	if r.End() {
		add("END")
	}
	if s == "" {
		return "0"
	}
	return s
}

// Client 表示一个 VXI-11 客户端：核心通道加可选的 abort 通道。
type Client struct {
	host  string
	core  *Conn
	abort *Conn
	link  *Link

	config *ClientConfig

	inflight    inflightTracker
	linkAborted atomic.Bool
	locked      atomic.Bool

	// opMu 保证分块写入等多次调用的操作不被交错
	opMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// NewClient 创建新的 VXI-11 客户端，但尚未连接。
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{config: config}
}

// Connect 建立核心通道：必要时先向 portmapper 查询核心程序端口。
func (c *Client) Connect(ctx context.Context, host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.core != nil {
		return fmt.Errorf("already connected")
	}
	if c.closed {
		return ErrClosed
	}

	port := c.config.CorePort
	if port == 0 {
		p, err := GetPort(ctx, host, c.config.PortmapPort, CoreProgram, CoreVersion, IPProtoTCP, c.config.Timeout)
		if err != nil {
			return err
		}
		port = p
		c.log("portmapper: core program on port %d", port)
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	c.log("connecting to %s", address)

	core, err := DialConn(ctx, address)
	if err != nil {
		return fmt.Errorf("dial core: %w", err)
	}
	c.host = host
	c.core = core
	c.log("core channel %s -> %s", core.LocalAddr(), core.RemoteAddr())
	return nil
}

// Dial 连接到 host 并创建到 device 的链路。
func Dial(ctx context.Context, host, device string, config *ClientConfig) (*Client, error) {
	c := NewClient(config)
	if err := c.Connect(ctx, host); err != nil {
		return nil, err
	}
	if _, err := c.CreateLink(ctx, device, false, c.config.LockTimeout); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// CreateLink 创建设备链路，并在服务器提供 abort 端口时连接 abort 通道。
// abort 通道连接失败时尽力销毁链路并返回 LinkError。
func (c *Client) CreateLink(ctx context.Context, device string, lockDevice bool, lockTimeout time.Duration) (*Link, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if device == "" {
		device = DefaultDevice
	}
	if c.Link() != nil {
		return nil, &LinkError{Device: device, Err: ErrLinkExists}
	}

	e := NewEncoder()
	e.PutInt32(c.config.ClientID)
	e.PutBool(lockDevice)
	e.PutUint32(durationMs(lockTimeout))
	e.PutString(device)

	d, err := c.call(ctx, ProcCreateLink, e, lockTimeout)
	if err != nil {
		return nil, &LinkError{Device: device, Err: err}
	}

	var (
		code      uint32
		lid       int32
		abortPort uint32
		maxRecv   uint32
	)
	if code, err = d.Uint32(); err == nil {
		if lid, err = d.Int32(); err == nil {
			if abortPort, err = d.Uint32(); err == nil {
				maxRecv, err = d.Uint32()
			}
		}
	}
	if err != nil {
		return nil, &LinkError{Device: device, Err: err}
	}
	if err := NewDeviceError("create_link", code); err != nil {
		return nil, &LinkError{Device: device, Err: err}
	}
	if abortPort > 65535 {
		return nil, &LinkError{Device: device,
			Err: NewProtocolError("create_link", "abort port <= 65535", strconv.FormatUint(uint64(abortPort), 10))}
	}

	link := &Link{
		ID:          lid,
		Device:      device,
		AbortPort:   int(abortPort),
		MaxRecvSize: maxRecv,
	}
	if link.MaxRecvSize == 0 {
		c.log("server reported maxRecvSize 0, using %d", DefaultMaxRecvSize)
		link.MaxRecvSize = DefaultMaxRecvSize
	}
	c.mu.Lock()
	c.link = link
	c.mu.Unlock()
	c.linkAborted.Store(false)
	c.locked.Store(lockDevice)

	c.log("link created: device=%s lid=%d abortPort=%d maxRecvSize=%d",
		device, lid, link.AbortPort, link.MaxRecvSize)

	if link.AbortPort == 0 {
		c.log("no abort channel offered")
		return link, nil
	}

	abort, err := DialConn(ctx, net.JoinHostPort(c.host, strconv.Itoa(link.AbortPort)))
	if err != nil {
		if derr := c.destroyLink(ctx); derr != nil {
			c.log("destroy link after abort dial failure: %v", derr)
		}
		return nil, &LinkError{Device: device, Err: fmt.Errorf("dial abort channel: %w", err)}
	}
	c.mu.Lock()
	c.abort = abort
	c.mu.Unlock()
	c.log("abort channel %s -> %s", abort.LocalAddr(), abort.RemoteAddr())
	return link, nil
}

// Link 返回当前链路（未建立时为 nil）。
func (c *Client) Link() *Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link
}

// Write 将 data 分块写入设备，每块不超过 MaxRecvSize，仅最后一块带 END。
// 服务器接受的字节数少于请求时重发剩余部分。任何一块失败都返回 WriteError，不报告部分成功。
func (c *Client) Write(ctx context.Context, data []byte, ioTimeout time.Duration) (int, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	link, err := c.usableLink()
	if err != nil {
		return 0, err
	}

	limit := int(link.MaxRecvSize)
	sent := 0
	for {
		end := min(sent+limit, len(data))
		chunk := data[sent:end]
		var flags uint32
		if end == len(data) {
			flags |= FlagEnd
		}

		n, err := c.deviceWrite(ctx, link, chunk, flags, ioTimeout)
		if err != nil {
			return 0, &WriteError{Offset: sent, Err: err}
		}
		if n > len(chunk) {
			return 0, &WriteError{Offset: sent,
				Err: NewProtocolError("device_write", fmt.Sprintf("size <= %d", len(chunk)), strconv.Itoa(n))}
		}
		if n == 0 && len(chunk) > 0 {
			return 0, &WriteError{Offset: sent, Err: fmt.Errorf("server accepted no data")}
		}
		sent += n
		if sent >= len(data) {
			return sent, nil
		}
	}
}

func (c *Client) deviceWrite(ctx context.Context, link *Link, chunk []byte, flags uint32, ioTimeout time.Duration) (int, error) {
	e := NewEncoder()
	e.PutInt32(link.ID)
	e.PutUint32(durationMs(ioTimeout))
	e.PutUint32(durationMs(c.config.LockTimeout))
	e.PutUint32(flags | c.lockFlags())
	e.PutOpaque(chunk)

	d, err := c.call(ctx, ProcDeviceWrite, e, ioTimeout)
	if err != nil {
		return 0, err
	}
	code, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	size, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if err := NewDeviceError("device_write", code); err != nil {
		return 0, err
	}
	return int(size), nil
}

// Read 执行一次 device_read，返回数据和结束原因。
// termChar 非 nil 时设置 termchrset 标志。Reason 为 REQCNT 时调用方应继续读取。
func (c *Client) Read(ctx context.Context, requestSize uint32, ioTimeout time.Duration, termChar *byte) ([]byte, Reason, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	link, err := c.usableLink()
	if err != nil {
		return nil, 0, err
	}
	if requestSize == 0 {
		requestSize = DefaultReadSize
	}

	var flags uint32
	var term uint32
	if termChar != nil {
		flags |= FlagTermCharSet
		term = uint32(*termChar)
	}

	e := NewEncoder()
	e.PutInt32(link.ID)
	e.PutUint32(requestSize)
	e.PutUint32(durationMs(ioTimeout))
	e.PutUint32(durationMs(c.config.LockTimeout))
	e.PutUint32(flags | c.lockFlags())
	e.PutUint32(term)

	d, err := c.call(ctx, ProcDeviceRead, e, ioTimeout)
	if err != nil {
		return nil, 0, err
	}
	code, err := d.Uint32()
	if err != nil {
		return nil, 0, err
	}
	reason, err := d.Uint32()
	if err != nil {
		return nil, 0, err
	}
	data, err := d.Opaque()
	if err != nil {
		return nil, 0, err
	}
	if err := NewDeviceError("device_read", code); err != nil {
		return nil, 0, err
	}
	if uint32(len(data)) > requestSize {
		return nil, 0, NewProtocolError("device_read",
			fmt.Sprintf("at most %d bytes", requestSize), fmt.Sprintf("%d bytes", len(data)))
	}
	return data, Reason(reason), nil
}

// Lock 获取设备锁。timeout > 0 时设置 waitlock，服务器最多等待 timeout。
func (c *Client) Lock(ctx context.Context, timeout time.Duration) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	link, err := c.usableLink()
	if err != nil {
		return err
	}

	var flags uint32
	if timeout > 0 {
		flags |= FlagWaitLock
	}
	e := NewEncoder()
	e.PutInt32(link.ID)
	e.PutUint32(flags)
	e.PutUint32(durationMs(timeout))

	c.log("lock requested: timeout=%v", timeout)
	if err := c.simpleCall(ctx, ProcDeviceLock, e, timeout); err != nil {
		return err
	}
	c.locked.Store(true)
	c.log("lock acquired")
	return nil
}

// Unlock 释放设备锁。未持有锁时服务器返回错误 12（ErrNotLocked）。
func (c *Client) Unlock(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	link, err := c.usableLink()
	if err != nil {
		return err
	}
	e := NewEncoder()
	e.PutInt32(link.ID)
	if err := c.simpleCall(ctx, ProcDeviceUnlock, e, 0); err != nil {
		return err
	}
	c.locked.Store(false)
	c.log("lock released")
	return nil
}

// Locked 返回本链路是否持有设备锁。
func (c *Client) Locked() bool {
	return c.locked.Load()
}

// ReadStatusByte 读取设备状态字节（device_readstb）。
func (c *Client) ReadStatusByte(ctx context.Context) (byte, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	link, err := c.usableLink()
	if err != nil {
		return 0, err
	}
	d, err := c.call(ctx, ProcDeviceReadStb, c.genericParams(link), c.config.Timeout)
	if err != nil {
		return 0, err
	}
	code, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	stb, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if err := NewDeviceError("device_readstb", code); err != nil {
		return 0, err
	}
	c.log("status: STB=0x%02x", byte(stb))
	return byte(stb), nil
}

// Trigger 发送设备触发（等效于 GPIB GET）。
func (c *Client) Trigger(ctx context.Context) error {
	return c.generic(ctx, ProcDeviceTrigger)
}

// Clear 执行设备清除（等效于 GPIB SDC），清空设备的输入输出缓冲区。
func (c *Client) Clear(ctx context.Context) error {
	return c.generic(ctx, ProcDeviceClear)
}

// Remote 将设备置于远程状态。
func (c *Client) Remote(ctx context.Context) error {
	return c.generic(ctx, ProcDeviceRemote)
}

// Local 将设备置于本地状态。
func (c *Client) Local(ctx context.Context) error {
	return c.generic(ctx, ProcDeviceLocal)
}

func (c *Client) generic(ctx context.Context, proc uint32) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	link, err := c.usableLink()
	if err != nil {
		return err
	}
	return c.simpleCall(ctx, proc, c.genericParams(link), c.config.Timeout)
}

// Abort 在 abort 通道上发送 device_abort，中止核心通道上进行中的调用。
// 没有进行中的调用时不发送任何内容。中止后链路进入未定义状态，后续操作返回 ErrLinkAborted。
func (c *Client) Abort(ctx context.Context) error {
	if !c.inflight.MarkAborted() {
		return nil
	}
	return c.sendAbort(ctx)
}

func (c *Client) sendAbort(ctx context.Context) error {
	c.mu.RLock()
	link, abort, core := c.link, c.abort, c.core
	c.mu.RUnlock()
	if link == nil {
		return ErrNoLink
	}
	if abort == nil {
		// 没有 abort 通道：中断核心通道上的等待
		c.log("no abort channel, interrupting core call %s", ProcName(c.inflight.Proc()))
		if core != nil {
			core.Interrupt()
		}
		return ErrNoAbortChannel
	}

	c.log("device_abort: lid=%d proc=%s", link.ID, ProcName(c.inflight.Proc()))
	e := NewEncoder()
	e.PutInt32(link.ID)
	res, err := abort.Call(AbortProgram, AbortVersion, ProcDeviceAbort, e.Bytes(), mergeDeadline(ctx, c.config.Timeout))
	if err != nil {
		return fmt.Errorf("device_abort: %w", err)
	}
	code, err := NewDecoder(res).Uint32()
	if err != nil {
		return err
	}
	return NewDeviceError("device_abort", code)
}

// DestroyLink 销毁设备链路（尽力而为），之后可以重新 CreateLink。
func (c *Client) DestroyLink(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.destroyLink(ctx)
}

// destroyLink 先在核心通道上发送 destroy_link，再关闭 abort 通道。
func (c *Client) destroyLink(ctx context.Context) error {
	c.mu.RLock()
	link := c.link
	c.mu.RUnlock()
	if link == nil {
		return nil
	}

	e := NewEncoder()
	e.PutInt32(link.ID)
	err := c.simpleCall(ctx, ProcDestroyLink, e, 0)

	c.mu.Lock()
	abort := c.abort
	c.link, c.abort = nil, nil
	c.mu.Unlock()
	c.locked.Store(false)
	c.linkAborted.Store(false)
	if abort != nil {
		abort.Close()
	}
	if err != nil {
		return err
	}
	c.log("link destroyed: lid=%d", link.ID)
	return nil
}

// Close 销毁链路并关闭所有连接。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hasLink := c.link != nil && c.core != nil
	c.mu.Unlock()

	if hasLink {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
		if err := c.DestroyLink(ctx); err != nil {
			c.log("destroy link on close: %v", err)
		}
		cancel()
	}

	c.mu.Lock()
	abort, core := c.abort, c.core
	c.abort = nil
	c.mu.Unlock()

	var errs []error
	if abort != nil {
		errs = append(errs, abort.Close())
	}
	if core != nil {
		errs = append(errs, core.Close())
	}
	return errors.Join(errs...)
}

// call 在核心通道上执行一次调用。ctx 被取消时通过 abort 通道中止该调用：
// 截止时间到达时先给服务器 AbortGrace 的时间自行以 I/O 超时返回。
func (c *Client) call(ctx context.Context, proc uint32, args *Encoder, ioTimeout time.Duration) (*Decoder, error) {
	c.mu.RLock()
	closed, core := c.closed, c.core
	c.mu.RUnlock()
	if core == nil {
		return nil, ErrNotConnected
	}
	if closed && proc != ProcDestroyLink {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.inflight.Begin(proc); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	aborting := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(aborting)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			t := time.NewTimer(c.config.AbortGrace)
			defer t.Stop()
			select {
			case <-done:
				return
			case <-t.C:
			}
		}
		if err := c.Abort(context.Background()); err != nil {
			c.log("abort %s: %v", ProcName(proc), err)
		}
	})

	// 套接字截止时间只作为兜底：正常情况下服务器在 ioTimeout 内应答
	deadline := time.Now().Add(ioTimeout + c.config.Timeout)
	res, err := core.Call(CoreProgram, CoreVersion, proc, args.Bytes(), deadline)
	close(done)
	if !stop() {
		// 回调已经开始：等它结束，避免它把下一次调用标记为中止
		<-aborting
	}

	if c.inflight.End() && !completedBeforeAbort(res, err) {
		c.linkAborted.Store(true)
		c.log("%s aborted", ProcName(proc))
		return nil, fmt.Errorf("%s: %w", ProcName(proc), errors.Join(ErrAborted, context.Cause(ctx)))
	}
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%s: %w: %w", ProcName(proc), ErrTimeout, err)
		}
		return nil, fmt.Errorf("%s: %w", ProcName(proc), err)
	}
	return NewDecoder(res), nil
}

// completedBeforeAbort 报告一个被标记中止的调用是否在中止生效前已经正常应答。
// 所有核心过程的应答都以 Device_ErrorCode 开头。
func completedBeforeAbort(res []byte, err error) bool {
	if err != nil {
		return false
	}
	code, derr := NewDecoder(res).Uint32()
	return derr == nil && code != DevErrAbort
}

// simpleCall 执行只返回 Device_Error 的调用。
func (c *Client) simpleCall(ctx context.Context, proc uint32, args *Encoder, ioTimeout time.Duration) error {
	d, err := c.call(ctx, proc, args, ioTimeout)
	if err != nil {
		return err
	}
	code, err := d.Uint32()
	if err != nil {
		return err
	}
	return NewDeviceError(ProcName(proc), code)
}

// genericParams 编码 Device_GenericParms。
func (c *Client) genericParams(link *Link) *Encoder {
	e := NewEncoder()
	e.PutInt32(link.ID)
	e.PutUint32(c.lockFlags())
	e.PutUint32(durationMs(c.config.LockTimeout))
	e.PutUint32(durationMs(c.config.Timeout))
	return e
}

func (c *Client) lockFlags() uint32 {
	if c.config.LockTimeout > 0 {
		return FlagWaitLock
	}
	return 0
}

// usableLink 返回当前链路；中止后的链路不可再用。
func (c *Client) usableLink() (*Link, error) {
	c.mu.RLock()
	closed, link := c.closed, c.link
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if link == nil {
		return nil, ErrNoLink
	}
	if c.linkAborted.Load() {
		return nil, ErrLinkAborted
	}
	return link, nil
}

// log 在配置了日志记录器时输出调试消息。
func (c *Client) log(format string, args ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Printf("[vxi11] "+format, args...)
	}
}

func durationMs(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := d / time.Millisecond
	if ms > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(ms)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
