package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig 保存串口传输的配置。
type SerialConfig struct {
	// Device 串口设备路径（例如 /dev/ttyUSB0 或 COM3）
	Device string

	// Baud 波特率（默认 9600）
	Baud int

	// DataBits 数据位（默认 8）
	DataBits int

	// Parity 校验方式（默认无校验）
	Parity serial.Parity

	// StopBits 停止位（默认 1）
	StopBits serial.StopBits

	// Timeout 单次读写的超时（默认 5s）
	Timeout time.Duration

	// PollInterval 底层读取的字节间超时；空闲读取后重新检查截止时间（默认 100ms）
	PollInterval time.Duration

	// Logger 用于调试输出（nil 禁用日志）
	Logger *log.Logger
}

// DefaultSerialConfig 返回带默认值的 SerialConfig。
func DefaultSerialConfig(device string) *SerialConfig {
	return &SerialConfig{
		Device:       device,
		Baud:         9600,
		DataBits:     8,
		Parity:       serial.ParityNone,
		StopBits:     serial.Stop1,
		Timeout:      DefaultTimeout,
		PollInterval: 100 * time.Millisecond,
	}
}

// port 是串口需要的最小接口，*serial.Port 满足该接口。
type port interface {
	io.ReadWriteCloser
	Flush() error
}

// Serial 是基于串口的传输。串口没有消息边界，空闲读取持续到截止时间后视为超时。
type Serial struct {
	port   port
	config *SerialConfig
	fr     frameReader
	rbuf   []byte

	mu     sync.Mutex
	closed bool
}

// OpenSerial 打开串口。
func OpenSerial(config *SerialConfig) (*Serial, error) {
	if config == nil || config.Device == "" {
		return nil, fmt.Errorf("%w: serial device not specified", ErrInvalidResource)
	}
	applySerialDefaults(config)

	p, err := serial.OpenPort(&serial.Config{
		Name:        config.Device,
		Baud:        config.Baud,
		Size:        byte(config.DataBits),
		Parity:      config.Parity,
		StopBits:    config.StopBits,
		ReadTimeout: config.PollInterval,
	})
	if err != nil {
		return nil, &IOError{Op: "open " + config.Device, Err: err}
	}
	s := newSerial(p, config)
	s.log("opened %s: %d %d%c%d", config.Device, config.Baud, config.DataBits, config.Parity, config.StopBits)
	return s, nil
}

func newSerial(p port, config *SerialConfig) *Serial {
	applySerialDefaults(config)
	s := &Serial{
		port:   p,
		config: config,
		rbuf:   make([]byte, 1024),
	}
	s.fr.fill = s.fill
	return s
}

func applySerialDefaults(config *SerialConfig) {
	if config.Baud == 0 {
		config.Baud = 9600
	}
	if config.DataBits == 0 {
		config.DataBits = 8
	}
	if config.Parity == 0 {
		config.Parity = serial.ParityNone
	}
	if config.StopBits == 0 {
		config.StopBits = serial.Stop1
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
}

// Write 写入全部字节。串口写入受波特率约束，每块写入后检查截止时间。
func (s *Serial) Write(ctx context.Context, p []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	deadline := deadlineFor(ctx, s.config.Timeout)
	for len(p) > 0 {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return fmt.Errorf("write: %w", ErrTimeout)
		}
		n, err := s.port.Write(p)
		p = p[n:]
		if err != nil {
			return classify("write", err)
		}
	}
	return nil
}

// ReadUntil 读取直到 term，返回不含 term 的字节。
func (s *Serial) ReadUntil(ctx context.Context, term []byte) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.fr.readUntil(ctx, term, deadlineFor(ctx, s.config.Timeout))
}

// ReadFull 精确读取 n 字节。
func (s *Serial) ReadFull(ctx context.Context, n int) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.fr.readFull(ctx, n, deadlineFor(ctx, s.config.Timeout))
}

// fill 读取一次串口。字节间超时到期时驱动返回 (0, io.EOF) 或 (0, nil)，都表示空闲。
func (s *Serial) fill(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
	n, err := s.port.Read(s.rbuf)
	if n > 0 {
		return s.rbuf[:n], false, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, false, nil
	}
	return nil, false, classify("read", err)
}

// Clear 丢弃缓冲数据并清空串口驱动的输入输出缓冲。
func (s *Serial) Clear(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.fr.reset()
	if err := s.port.Flush(); err != nil {
		return &IOError{Op: "flush", Err: err}
	}
	return nil
}

// EndOfMessage 对串口总是 false。
func (s *Serial) EndOfMessage() bool { return false }

// Close 关闭串口。
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

func (s *Serial) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// log 在配置了日志记录器时输出调试消息。
func (s *Serial) log(format string, args ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Printf("[serial] "+format, args...)
	}
}

// ParseParity 将 N/E/O/M/S（或 none/even/odd/mark/space）转换为 serial.Parity。
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(s) {
	case "", "n", "none":
		return serial.ParityNone, nil
	case "e", "even":
		return serial.ParityEven, nil
	case "o", "odd":
		return serial.ParityOdd, nil
	case "m", "mark":
		return serial.ParityMark, nil
	case "s", "space":
		return serial.ParitySpace, nil
	}
	return 0, fmt.Errorf("%w: parity %q", ErrInvalidResource, s)
}

// ParseStopBits 将 1、1.5、2 转换为 serial.StopBits。
func ParseStopBits(s string) (serial.StopBits, error) {
	switch s {
	case "", "1":
		return serial.Stop1, nil
	case "1.5":
		return serial.Stop1Half, nil
	case "2":
		return serial.Stop2, nil
	}
	return 0, fmt.Errorf("%w: stop bits %q", ErrInvalidResource, s)
}
