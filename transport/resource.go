package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
	"github.com/xiabin827/goscpi/vxi11"
)

// Kind 标识传输类型。
type Kind string

const (
	KindTCP    Kind = "tcp"
	KindVXI11  Kind = "vxi11"
	KindSerial Kind = "serial"
)

// Resource 描述如何到达一台仪器。
type Resource struct {
	Kind Kind

	// Host 和 Port 用于 TCP 和 VXI-11（VXI-11 的 Port 是 portmapper 端口，0 表示 111）
	Host string
	Port int

	// Device 是 VXI-11 设备名或串口设备路径
	Device string

	// 串口参数
	Baud     int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

// ParseResource 解析资源字符串。支持：
//
//	tcp://host[:port]
//	vxi11://host[:portmapper-port][/device]
//	serial:///dev/ttyUSB0?baud=9600&parity=N&databits=8&stopbits=1
//
// 以及常见的 VISA 形式 TCPIP[n]::host::port::SOCKET、TCPIP[n]::host[::device]::INSTR、
// ASRL<device>::INSTR。
func ParseResource(s string) (*Resource, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "::") {
		return parseVISA(s)
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidResource, s, err)
	}

	switch Kind(strings.ToLower(u.Scheme)) {
	case KindTCP:
		r := &Resource{Kind: KindTCP, Host: u.Hostname(), Port: DefaultTCPPort}
		if r.Host == "" {
			return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidResource, s)
		}
		if p := u.Port(); p != "" {
			if r.Port, err = parsePort(p); err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidResource, s, err)
			}
		}
		return r, nil

	case KindVXI11:
		r := &Resource{Kind: KindVXI11, Host: u.Hostname(), Device: vxi11.DefaultDevice}
		if r.Host == "" {
			return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidResource, s)
		}
		if p := u.Port(); p != "" {
			if r.Port, err = parsePort(p); err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidResource, s, err)
			}
		}
		if dev := strings.Trim(u.Path, "/"); dev != "" {
			r.Device = dev
		}
		return r, nil

	case KindSerial:
		dev := u.Path
		if u.Host != "" {
			// serial://COM3 形式
			dev = u.Host + u.Path
		}
		if dev == "" {
			return nil, fmt.Errorf("%w: %q: missing serial device", ErrInvalidResource, s)
		}
		r := &Resource{Kind: KindSerial, Device: dev, Baud: 9600, DataBits: 8,
			Parity: serial.ParityNone, StopBits: serial.Stop1}
		q := u.Query()
		if v := q.Get("baud"); v != "" {
			if r.Baud, err = strconv.Atoi(v); err != nil || r.Baud <= 0 {
				return nil, fmt.Errorf("%w: %q: baud %q", ErrInvalidResource, s, v)
			}
		}
		if v := q.Get("databits"); v != "" {
			if r.DataBits, err = strconv.Atoi(v); err != nil || r.DataBits < 5 || r.DataBits > 8 {
				return nil, fmt.Errorf("%w: %q: databits %q", ErrInvalidResource, s, v)
			}
		}
		if r.Parity, err = ParseParity(q.Get("parity")); err != nil {
			return nil, err
		}
		if r.StopBits, err = ParseStopBits(q.Get("stopbits")); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: %q: unknown scheme %q", ErrInvalidResource, s, u.Scheme)
}

func parseVISA(s string) (*Resource, error) {
	parts := strings.Split(s, "::")
	head := strings.ToUpper(parts[0])
	last := strings.ToUpper(parts[len(parts)-1])

	switch {
	case strings.HasPrefix(head, "TCPIP"):
		if len(parts) < 3 || parts[1] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidResource, s)
		}
		switch last {
		case "SOCKET":
			if len(parts) != 4 {
				return nil, fmt.Errorf("%w: %q: expected TCPIP::host::port::SOCKET", ErrInvalidResource, s)
			}
			port, err := parsePort(parts[2])
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidResource, s, err)
			}
			return &Resource{Kind: KindTCP, Host: parts[1], Port: port}, nil
		case "INSTR":
			r := &Resource{Kind: KindVXI11, Host: parts[1], Device: vxi11.DefaultDevice}
			if len(parts) == 4 {
				r.Device = parts[2]
			}
			if strings.HasPrefix(strings.ToLower(r.Device), "hislip") {
				return nil, fmt.Errorf("%w: %q: hislip is not supported", ErrInvalidResource, s)
			}
			return r, nil
		}
	case strings.HasPrefix(head, "ASRL") && last == "INSTR" && len(parts) == 2:
		dev := parts[0][len("ASRL"):]
		if dev == "" {
			return nil, fmt.Errorf("%w: %q: missing serial device", ErrInvalidResource, s)
		}
		if _, err := strconv.Atoi(dev); err == nil {
			// ASRL3::INSTR 形式，按平台习惯映射
			dev = "COM" + dev
		}
		return &Resource{Kind: KindSerial, Device: dev, Baud: 9600, DataBits: 8,
			Parity: serial.ParityNone, StopBits: serial.Stop1}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidResource, s)
}

func parsePort(p string) (int, error) {
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", p)
	}
	return n, nil
}

// String 以 URL 形式返回资源。
func (r *Resource) String() string {
	switch r.Kind {
	case KindTCP:
		return "tcp://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	case KindVXI11:
		host := r.Host
		if r.Port != 0 {
			host = net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
		}
		return "vxi11://" + host + "/" + r.Device
	case KindSerial:
		dev := r.Device
		if !strings.HasPrefix(dev, "/") {
			dev = "/" + dev
		}
		return fmt.Sprintf("serial://%s?baud=%d&databits=%d&parity=%c&stopbits=%s",
			dev, r.Baud, r.DataBits, r.Parity, stopBitsString(r.StopBits))
	}
	return string(r.Kind) + "://?"
}

func stopBitsString(sb serial.StopBits) string {
	switch sb {
	case serial.Stop1Half:
		return "1.5"
	case serial.Stop2:
		return "2"
	}
	return "1"
}

// Options 是 Open 的公共选项。
type Options struct {
	// Timeout 单次 I/O 超时（默认 5s）
	Timeout time.Duration

	// Logger 用于调试输出（nil 禁用日志）
	Logger *log.Logger
}

// Open 根据资源创建对应的传输。
func Open(ctx context.Context, r *Resource, opts *Options) (Transport, error) {
	if opts == nil {
		opts = &Options{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch r.Kind {
	case KindTCP:
		cfg := DefaultTCPConfig()
		cfg.Timeout = timeout
		cfg.Logger = opts.Logger
		t, err := DialTCP(ctx, net.JoinHostPort(r.Host, strconv.Itoa(r.Port)), cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindVXI11:
		cfg := DefaultVXI11Config()
		cfg.Device = r.Device
		cfg.PortmapPort = r.Port
		cfg.Timeout = timeout
		cfg.Logger = opts.Logger
		t, err := DialVXI11(ctx, r.Host, cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindSerial:
		cfg := DefaultSerialConfig(r.Device)
		cfg.Baud = r.Baud
		cfg.DataBits = r.DataBits
		cfg.Parity = r.Parity
		cfg.StopBits = r.StopBits
		cfg.Timeout = timeout
		cfg.Logger = opts.Logger
		t, err := OpenSerial(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidResource, r.Kind)
}
