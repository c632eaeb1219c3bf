// Package goscpi 在字节传输之上实现 SCPI 会话：命令/查询交换、*OPC? 同步、错误队列读取、
// 数值和二进制块解析。
//
// 一个 Session 独占一个 transport.Transport，并且同一时刻只服务一个调用者：
// SCPI 是半双工的，新的请求不能在上一个查询的应答被读完之前发出。
// 需要并行访问多台仪器时，每台仪器使用一个 Session。
package goscpi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xiabin827/goscpi/transport"
)

// State 表示会话的请求/应答状态。
type State uint8

const (
	StateIdle          State = iota // 可以发出新的请求
	StateAwaitingReply              // 查询已发出，应答尚未读完
)

func (s State) String() string {
	if s == StateAwaitingReply {
		return "AwaitingReply"
	}
	return "Idle"
}

// claims 记录已被会话占用的传输，保证一个传输只属于一个 Session。
var claims sync.Map

// Session 是建立在 Transport 之上的 SCPI 会话。
type Session struct {
	id     uuid.UUID
	t      transport.Transport
	config *Config
	term   []byte

	mu      sync.Mutex
	state   State
	tainted bool  // 查询失败后置位，直到 CheckErrors 读到 "no error"
	stale   bool  // 可能还有迟到的应答留在链路上
	broken  error // 协议解码错误，会话不可再用
	closed  bool
}

// Open 解析资源字符串，打开对应的传输并在其上创建会话。会话关闭时传输一起关闭。
func Open(ctx context.Context, resource string, config *Config) (*Session, error) {
	config = config.withDefaults()

	r, err := transport.ParseResource(resource)
	if err != nil {
		return nil, err
	}
	t, err := transport.Open(ctx, r, &transport.Options{Timeout: config.Timeout, Logger: config.Logger})
	if err != nil {
		return nil, err
	}
	s, err := NewSession(t, config)
	if err != nil {
		t.Close()
		return nil, err
	}
	s.log("opened %s", r)
	return s, nil
}

// NewSession 在已打开的传输上创建会话。会话从此独占 t，Close 时关闭它；
// 同一个传输再次创建会话返回 ErrTransportInUse。
func NewSession(t transport.Transport, config *Config) (*Session, error) {
	if t == nil {
		return nil, errors.New("scpi: nil transport")
	}
	if _, loaded := claims.LoadOrStore(t, struct{}{}); loaded {
		return nil, ErrTransportInUse
	}
	config = config.withDefaults()
	return &Session{
		id:     uuid.New(),
		t:      t,
		config: config,
		term:   []byte(config.ReadTerminator),
	}, nil
}

// Command 发送一条不期望应答的命令。
func (s *Session) Command(ctx context.Context, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	return s.write(ctx, cmd, false)
}

// Query 发送查询并返回去掉终止符和首尾空白的应答文本。
func (s *Session) Query(ctx context.Context, q string) (string, error) {
	data, err := s.QueryBytes(ctx, q)
	if err != nil {
		return "", err
	}
	return DecodeText(bytes.TrimSpace(data)), nil
}

// QueryBytes 发送查询并返回去掉终止符的原始应答。
// 会话被污染时直接返回 ErrSessionTainted，不做任何 I/O。
func (s *Session) QueryBytes(ctx context.Context, q string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return nil, err
	}
	if err := s.write(ctx, q, true); err != nil {
		return nil, err
	}
	s.state = StateAwaitingReply
	data, err := s.t.ReadUntil(ctx, s.term)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %q: %w", ErrReadFailed, q, err), true)
	}
	s.state = StateIdle
	s.log("<- %q", data)
	return data, nil
}

// QueryFloat 查询一个数值。
func (s *Session) QueryFloat(ctx context.Context, q string) (float64, error) {
	reply, err := s.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	return ParseFloat(reply)
}

// QueryFloats 查询逗号分隔的数值列表。
func (s *Session) QueryFloats(ctx context.Context, q string) ([]float64, error) {
	reply, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return ParseFloats(reply)
}

// QueryInt 查询一个整数。
func (s *Session) QueryInt(ctx context.Context, q string) (int64, error) {
	reply, err := s.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	return ParseInt(reply)
}

// QueryBool 查询一个布尔值（1/0/ON/OFF）。
func (s *Session) QueryBool(ctx context.Context, q string) (bool, error) {
	reply, err := s.Query(ctx, q)
	if err != nil {
		return false, err
	}
	return ParseBool(reply)
}

// QueryBlock 发送查询并读取二进制块应答，返回块中的数据。
// 收到的字节少于声明长度时返回 ErrTruncatedBlock。
func (s *Session) QueryBlock(ctx context.Context, q string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return nil, err
	}
	if err := s.write(ctx, q, true); err != nil {
		return nil, err
	}
	s.state = StateAwaitingReply
	data, err := s.readBlock(ctx)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%q: %w", q, err), true)
	}
	s.state = StateIdle
	s.log("<- block of %d bytes", len(data))
	return data, nil
}

// CommandBlock 发送 prefix 后跟定长二进制块的命令（如波形下载）。
func (s *Session) CommandBlock(ctx context.Context, prefix string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	msg := append([]byte(prefix), EncodeBlock(data)...)
	msg = append(msg, s.config.WriteTerminator...)
	s.log("-> %s<block of %d bytes>", prefix, len(data))
	if err := s.t.Write(ctx, msg); err != nil {
		return s.fail(fmt.Errorf("%w: %q: %w", ErrWriteFailed, prefix, err), false)
	}
	return nil
}

func (s *Session) readBlock(ctx context.Context) ([]byte, error) {
	head, err := s.t.ReadFull(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("%w: block header: %w", ErrReadFailed, err)
	}
	if head[0] != '#' {
		return nil, fmt.Errorf("%w: block header %q", ErrProtocolDecode, head)
	}
	n, ok := blockDigits(head[1])
	if !ok {
		return nil, fmt.Errorf("%w: block header %q", ErrProtocolDecode, head)
	}

	if n == 0 {
		// 不定长块以消息结束为界。没有 END 指示的传输只能以终止符为界，
		// 数据中出现终止符字节时块会被截断
		var data []byte
		if mr, ok := s.t.(transport.MessageReader); ok {
			data, err = mr.ReadMessage(ctx)
			data = bytes.TrimSuffix(data, s.term)
		} else {
			data, err = s.t.ReadUntil(ctx, s.term)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: indefinite block: %w", ErrReadFailed, err)
		}
		return data, nil
	}

	digits, err := s.t.ReadFull(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%w: block length: %w", ErrTruncatedBlock, err)
	}
	length, err := blockLength(digits)
	if err != nil {
		return nil, err
	}
	data, err := s.t.ReadFull(ctx, length)
	if err != nil {
		return nil, fmt.Errorf("%w: declared %d bytes: %w", ErrTruncatedBlock, length, err)
	}

	// 块后面通常还有终止符；消息恰好在块末尾结束时没有
	if f, ok := s.t.(transport.MessageFramer); !ok || !f.EndOfMessage() {
		if rest, err := s.t.ReadUntil(ctx, s.term); err != nil {
			return nil, fmt.Errorf("%w: block terminator: %w", ErrReadFailed, err)
		} else if len(bytes.TrimSpace(rest)) > 0 {
			s.log("discarding %d bytes after block", len(rest))
		}
	}
	return data, nil
}

// CommandWait 发送命令并等待 *OPC? 确认完成。
func (s *Session) CommandWait(ctx context.Context, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return err
	}
	if err := s.write(ctx, cmd, false); err != nil {
		return err
	}
	return s.waitComplete(ctx)
}

// WaitComplete 等待之前的命令全部完成（*OPC? 返回 1）。
func (s *Session) WaitComplete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return err
	}
	return s.waitComplete(ctx)
}

// waitComplete 发出 *OPC? 并等待 "1"。第一次读取只用一半预算；超时后再发一次 *OPC?，
// 在剩余预算内读取两个应答。这是会话唯一的重试，原命令从不重发。
func (s *Session) waitComplete(ctx context.Context) error {
	budget := s.config.OPCTimeout
	opcCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	// 读取等待由 OPC 预算决定，不受传输的单次 I/O 超时限制
	opcCtx = transport.WithTimeout(opcCtx, budget)

	if err := s.write(opcCtx, "*OPC?", true); err != nil {
		return err
	}
	s.state = StateAwaitingReply

	firstCtx, cancelFirst := context.WithTimeout(opcCtx, budget/2)
	reply, err := s.t.ReadUntil(firstCtx, s.term)
	cancelFirst()
	if err == nil {
		s.state = StateIdle
		return checkOPC(reply)
	}
	if !errors.Is(err, transport.ErrTimeout) || opcCtx.Err() != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrOperationTimeout, err), true)
	}

	s.log("*OPC? not answered within %v, asking again", budget/2)
	if err := s.write(opcCtx, "*OPC?", true); err != nil {
		return err
	}
	for pending := 2; pending > 0; pending-- {
		reply, err := s.t.ReadUntil(opcCtx, s.term)
		if err != nil {
			return s.fail(fmt.Errorf("%w: %d replies outstanding: %w", ErrOperationTimeout, pending, err), true)
		}
		if err := checkOPC(reply); err != nil {
			s.state = StateIdle
			return err
		}
	}
	s.state = StateIdle
	return nil
}

func checkOPC(reply []byte) error {
	v, err := ParseInt(string(reply))
	if err != nil || v != 1 {
		return malformed(string(reply), "*OPC? reply 1")
	}
	return nil
}

// CheckErrors 反复查询错误队列直到仪器报告 "no error"（代码 0）或读满 maxIter 条
// （maxIter <= 0 时使用 Config.MaxErrorQueue）。返回的错误按从旧到新排列。
// 只有最后读到 "no error" 时才清除会话的污染标志；读满上限时返回已读到的错误和 ErrErrorQueueOverflow。
func (s *Session) CheckErrors(ctx context.Context, maxIter int) ([]InstrumentError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	if maxIter <= 0 {
		maxIter = s.config.MaxErrorQueue
	}
	if s.stale {
		if err := s.clear(ctx); err != nil {
			return nil, err
		}
	}

	var errs []InstrumentError
	for i := 0; i < maxIter; i++ {
		if err := s.write(ctx, s.config.ErrorQuery, true); err != nil {
			return errs, err
		}
		s.state = StateAwaitingReply
		reply, err := s.t.ReadUntil(ctx, s.term)
		if err != nil {
			return errs, s.fail(fmt.Errorf("%w: %q: %w", ErrReadFailed, s.config.ErrorQuery, err), true)
		}
		s.state = StateIdle

		ie, err := ParseInstrumentError(DecodeText(reply))
		if err != nil {
			return errs, err
		}
		if ie.Code == 0 {
			if s.tainted {
				s.log("error queue drained, session usable again")
			}
			s.tainted = false
			return errs, nil
		}
		s.log("instrument error %d: %s", ie.Code, ie.Message)
		errs = append(errs, ie)
	}
	return errs, fmt.Errorf("%w: %d errors read", ErrErrorQueueOverflow, len(errs))
}

// Identify 查询 *IDN? 并解析。
func (s *Session) Identify(ctx context.Context) (Identity, error) {
	reply, err := s.Query(ctx, "*IDN?")
	if err != nil {
		return Identity{}, err
	}
	return ParseIdentity(reply)
}

// Clear 执行设备清除（VXI-11 device_clear）或清空输入缓冲，丢弃迟到的应答。
// 不清除污染标志。
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	return s.clear(ctx)
}

func (s *Session) clear(ctx context.Context) error {
	if c, ok := s.t.(transport.Clearer); ok {
		s.log("clearing transport")
		if err := c.Clear(ctx); err != nil {
			return s.fail(fmt.Errorf("clear: %w", err), false)
		}
	}
	s.stale = false
	s.state = StateIdle
	return nil
}

// Reset 发送 *RST 和 *CLS。
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if err := s.write(ctx, "*RST", false); err != nil {
		return err
	}
	return s.write(ctx, "*CLS", false)
}

// Close 关闭会话和它占有的传输。
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	claims.Delete(s.t)
	s.log("closing")
	return s.t.Close()
}

// ID 返回会话标识，用于区分并行会话的日志。
func (s *Session) ID() uuid.UUID { return s.id }

// Transport 返回会话占有的传输，用于 VXI-11 锁等传输特有的操作。
func (s *Session) Transport() transport.Transport { return s.t }

// State 返回当前的请求/应答状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tainted 返回会话是否因查询失败而被污染。
func (s *Session) Tainted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tainted
}

// Err 返回使会话失效的协议错误；会话可用时返回 nil。
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *Session) write(ctx context.Context, cmd string, query bool) error {
	s.log("-> %s", cmd)
	msg := make([]byte, 0, len(cmd)+len(s.config.WriteTerminator))
	msg = append(msg, cmd...)
	msg = append(msg, s.config.WriteTerminator...)
	if err := s.t.Write(ctx, msg); err != nil {
		return s.fail(fmt.Errorf("%w: %q: %w", ErrWriteFailed, cmd, err), query)
	}
	return nil
}

// fail 记录失败对会话状态的影响并原样返回 err。
func (s *Session) fail(err error, query bool) error {
	s.state = StateIdle
	if errors.Is(err, ErrProtocolDecode) || errors.Is(err, transport.ErrProtocolDecode) {
		s.broken = err
		s.log("session broken: %v", err)
		return err
	}
	if query {
		s.tainted = true
	}
	if errors.Is(err, transport.ErrTimeout) {
		s.stale = true
	}
	s.log("%v", err)
	return err
}

func (s *Session) usable() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.broken != nil {
		return fmt.Errorf("%w: %w", ErrSessionBroken, s.broken)
	}
	return nil
}

func (s *Session) queryable() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.tainted {
		return ErrSessionTainted
	}
	return nil
}

// log 在配置了日志记录器时输出调试消息。
func (s *Session) log(format string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Printf("[scpi "+shortID(s.id)+"] "+format, args...)
	}
}

func shortID(id uuid.UUID) string {
	str := id.String()
	if i := strings.IndexByte(str, '-'); i > 0 {
		return str[:i]
	}
	return str
}
