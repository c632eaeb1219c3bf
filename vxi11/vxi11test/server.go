// Package vxi11test 提供进程内的 VXI-11 假服务器，用于测试客户端和上层传输。
// 服务器同时监听 portmapper、核心通道和 abort 通道，按 END 重组写入的消息，
// 并把 Handler 的应答放入输出缓冲供 device_read 读取。
package vxi11test

import (
	"bufio"
	"bytes"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/xiabin827/goscpi/vxi11"
)

// Handler 处理一条完整的消息并返回应答（nil 表示无应答）。
type Handler func(msg []byte) []byte

// Server 是假的 VXI-11 服务器。
type Server struct {
	handler Handler

	pmap  net.Listener
	core  net.Listener
	abort net.Listener

	mu sync.Mutex

	// maxRecvSize 在 create_link 中报告；大于该值的 device_write 返回参数错误
	maxRecvSize uint32
	// noAbortChannel 为 true 时 create_link 报告 abort 端口 0
	noAbortChannel bool
	// writeLimit 大于 0 时每次 device_write 最多接受这么多字节
	writeLimit int

	partial   []byte
	messages  [][]byte
	outbox    []byte
	writes    []WriteCall
	aborts    int
	destroyed int
	// abortOpen 是当前打开的 abort 通道连接数；abortAtDestroy 记录 destroy_link 到达时的值
	abortOpen      int
	abortAtDestroy []int
	clears    int
	triggers  int
	lockedBy  int32 // 0 表示未锁定；-1 表示被其它链路锁定
	stb       byte
	nextLid   int32
	abortCh   chan struct{}
	dataCh    chan struct{}
	conns     map[net.Conn]struct{}
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// WriteCall 记录一次 device_write 调用。
type WriteCall struct {
	Data  []byte
	Flags uint32
}

// NewServer 在 127.0.0.1 的随机端口上启动假服务器。
func NewServer(handler Handler) (*Server, error) {
	s := &Server{
		maxRecvSize: 1024,
		handler:     handler,
		nextLid:     1,
		abortCh:     make(chan struct{}, 1),
		dataCh:      make(chan struct{}, 1),
		conns:       make(map[net.Conn]struct{}),
	}
	var err error
	if s.pmap, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
		return nil, err
	}
	if s.core, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
		s.pmap.Close()
		return nil, err
	}
	if s.abort, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
		s.pmap.Close()
		s.core.Close()
		return nil, err
	}
	s.serve(s.pmap, s.handlePortmap)
	s.serve(s.core, s.handleCore)
	s.serve(s.abort, s.handleAbort)
	return s, nil
}

// Host 返回服务器主机地址。
func (s *Server) Host() string { return "127.0.0.1" }

// PortmapPort 返回 portmapper 监听端口。
func (s *Server) PortmapPort() int { return port(s.pmap) }

// CorePort 返回核心通道监听端口。
func (s *Server) CorePort() int { return port(s.core) }

// AbortPort 返回 abort 通道监听端口。
func (s *Server) AbortPort() int { return port(s.abort) }

// Messages 返回按 END 重组后收到的消息。
func (s *Server) Messages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.messages))
	copy(out, s.messages)
	return out
}

// Writes 返回所有 device_write 调用。
func (s *Server) Writes() []WriteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WriteCall, len(s.writes))
	copy(out, s.writes)
	return out
}

// Aborts 返回收到的 device_abort 次数。
func (s *Server) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

// Destroyed 返回收到的 destroy_link 次数。
func (s *Server) Destroyed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// AbortOpenAtDestroy 返回每次 destroy_link 到达时仍打开的 abort 通道连接数。
func (s *Server) AbortOpenAtDestroy() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.abortAtDestroy))
	copy(out, s.abortAtDestroy)
	return out
}

// Clears 返回收到的 device_clear 次数。
func (s *Server) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// Triggers 返回收到的 device_trigger 次数。
func (s *Server) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers
}

// SetMaxRecvSize 设置 create_link 报告的 maxRecvSize（0 表示让客户端使用默认值）。
func (s *Server) SetMaxRecvSize(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRecvSize = n
}

// SetNoAbortChannel 让 create_link 报告 abort 端口 0。
func (s *Server) SetNoAbortChannel(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noAbortChannel = v
}

// SetWriteLimit 限制每次 device_write 接受的字节数，模拟服务器短写。
func (s *Server) SetWriteLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLimit = n
}

// SetLockedByOther 模拟设备被其它链路锁定。
func (s *Server) SetLockedByOther(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if locked {
		s.lockedBy = -1
	} else {
		s.lockedBy = 0
	}
}

// SetStatusByte 设置 device_readstb 返回的状态字节。
func (s *Server) SetStatusByte(stb byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stb = stb
}

// Push 直接向输出缓冲追加数据，模拟仪器主动产生的应答。
func (s *Server) Push(data []byte) {
	s.mu.Lock()
	s.outbox = append(s.outbox, data...)
	s.mu.Unlock()
	s.signal(s.dataCh)
}

// Close 关闭所有监听器和连接。
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.pmap.Close()
		s.core.Close()
		s.abort.Close()
	})
	s.wg.Wait()
	return nil
}

func (s *Server) serve(l net.Listener, handle func(*vxi11.CallHeader, *vxi11.Decoder) (*vxi11.Encoder, uint32)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				conn.Close()
				return
			}
			s.conns[conn] = struct{}{}
			abort := l == s.abort
			if abort {
				s.abortOpen++
			}
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serveConn(conn, handle)
				if abort {
					s.mu.Lock()
					s.abortOpen--
					s.mu.Unlock()
				}
			}()
		}
	}()
}

func (s *Server) serveConn(conn net.Conn, handle func(*vxi11.CallHeader, *vxi11.Decoder) (*vxi11.Encoder, uint32)) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	for {
		rec, err := vxi11.ReadRecord(r)
		if err != nil {
			return
		}
		d := vxi11.NewDecoder(rec)
		call, err := vxi11.ParseCall(d)
		if err != nil {
			return
		}
		res, stat := handle(call, d)

		e := vxi11.NewEncoder()
		(&vxi11.ReplyHeader{Xid: call.Xid, Accepted: true, Stat: stat}).Encode(e)
		if stat == vxi11.AcceptSuccess && res != nil {
			e.Append(res.Bytes())
		}
		if err := vxi11.WriteRecord(conn, e.Bytes()); err != nil {
			return
		}
	}
}

func (s *Server) handlePortmap(call *vxi11.CallHeader, d *vxi11.Decoder) (*vxi11.Encoder, uint32) {
	if call.Program != vxi11.PortmapProgram {
		return nil, vxi11.AcceptProgUnavail
	}
	if call.Procedure != 3 {
		return nil, vxi11.AcceptProcUnavail
	}
	prog, err := d.Uint32()
	if err != nil {
		return nil, vxi11.AcceptGarbageArgs
	}
	e := vxi11.NewEncoder()
	if prog == vxi11.CoreProgram {
		e.PutUint32(uint32(s.CorePort()))
	} else {
		e.PutUint32(0)
	}
	return e, vxi11.AcceptSuccess
}

func (s *Server) handleAbort(call *vxi11.CallHeader, d *vxi11.Decoder) (*vxi11.Encoder, uint32) {
	if call.Program != vxi11.AbortProgram {
		return nil, vxi11.AcceptProgUnavail
	}
	if call.Procedure != vxi11.ProcDeviceAbort {
		return nil, vxi11.AcceptProcUnavail
	}
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	s.signal(s.abortCh)
	return deviceError(0), vxi11.AcceptSuccess
}

func (s *Server) handleCore(call *vxi11.CallHeader, d *vxi11.Decoder) (*vxi11.Encoder, uint32) {
	if call.Program != vxi11.CoreProgram {
		return nil, vxi11.AcceptProgUnavail
	}
	switch call.Procedure {
	case vxi11.ProcCreateLink:
		return s.createLink(d)
	case vxi11.ProcDeviceWrite:
		return s.deviceWrite(d)
	case vxi11.ProcDeviceRead:
		return s.deviceRead(d)
	case vxi11.ProcDeviceReadStb:
		s.mu.Lock()
		stb := s.stb
		s.mu.Unlock()
		e := deviceError(0)
		e.PutUint32(uint32(stb))
		return e, vxi11.AcceptSuccess
	case vxi11.ProcDeviceTrigger:
		s.mu.Lock()
		s.triggers++
		s.mu.Unlock()
		return deviceError(0), vxi11.AcceptSuccess
	case vxi11.ProcDeviceClear:
		s.mu.Lock()
		s.clears++
		s.partial = nil
		s.outbox = nil
		s.mu.Unlock()
		return deviceError(0), vxi11.AcceptSuccess
	case vxi11.ProcDeviceRemote, vxi11.ProcDeviceLocal:
		return deviceError(0), vxi11.AcceptSuccess
	case vxi11.ProcDeviceLock:
		return s.lock(d)
	case vxi11.ProcDeviceUnlock:
		lid, _ := d.Int32()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lockedBy != lid {
			return deviceError(vxi11.DevErrNoLockHeld), vxi11.AcceptSuccess
		}
		s.lockedBy = 0
		return deviceError(0), vxi11.AcceptSuccess
	case vxi11.ProcDestroyLink:
		s.mu.Lock()
		s.destroyed++
		s.abortAtDestroy = append(s.abortAtDestroy, s.abortOpen)
		s.mu.Unlock()
		return deviceError(0), vxi11.AcceptSuccess
	}
	return nil, vxi11.AcceptProcUnavail
}

func (s *Server) createLink(d *vxi11.Decoder) (*vxi11.Encoder, uint32) {
	if _, err := d.Int32(); err != nil {
		return nil, vxi11.AcceptGarbageArgs
	}
	lockDevice, err := d.Bool()
	if err != nil {
		return nil, vxi11.AcceptGarbageArgs
	}
	if _, err := d.Uint32(); err != nil {
		return nil, vxi11.AcceptGarbageArgs
	}
	if _, err := d.String(); err != nil {
		return nil, vxi11.AcceptGarbageArgs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lid := s.nextLid
	s.nextLid++
	if lockDevice {
		if s.lockedBy != 0 {
			e := deviceError(vxi11.DevErrDeviceLocked)
			e.PutInt32(0)
			e.PutUint32(0)
			e.PutUint32(0)
			return e, vxi11.AcceptSuccess
		}
		s.lockedBy = lid
	}

	abortPort := uint32(s.AbortPort())
	if s.noAbortChannel {
		abortPort = 0
	}
	e := deviceError(0)
	e.PutInt32(lid)
	e.PutUint32(abortPort)
	e.PutUint32(s.maxRecvSize)
	return e, vxi11.AcceptSuccess
}

func (s *Server) deviceWrite(d *vxi11.Decoder) (*vxi11.Encoder, uint32) {
	var fields [4]uint32
	for i := range fields {
		v, err := d.Uint32()
		if err != nil {
			return nil, vxi11.AcceptGarbageArgs
		}
		fields[i] = v
	}
	flags := fields[3]
	data, err := d.Opaque()
	if err != nil {
		return nil, vxi11.AcceptGarbageArgs
	}

	s.mu.Lock()
	if s.lockedBy == -1 {
		s.mu.Unlock()
		e := deviceError(vxi11.DevErrDeviceLocked)
		e.PutUint32(0)
		return e, vxi11.AcceptSuccess
	}
	if s.maxRecvSize > 0 && uint32(len(data)) > s.maxRecvSize {
		s.mu.Unlock()
		e := deviceError(vxi11.DevErrParameter)
		e.PutUint32(0)
		return e, vxi11.AcceptSuccess
	}
	accepted := len(data)
	if s.writeLimit > 0 && accepted > s.writeLimit {
		accepted = s.writeLimit
		// 只接受了一部分，END 不生效
		flags &^= vxi11.FlagEnd
	}
	s.writes = append(s.writes, WriteCall{Data: bytes.Clone(data), Flags: fields[3]})
	s.partial = append(s.partial, data[:accepted]...)

	var reply []byte
	complete := flags&vxi11.FlagEnd != 0
	if complete {
		msg := s.partial
		s.partial = nil
		s.messages = append(s.messages, msg)
		if s.handler != nil {
			reply = s.handler(msg)
		}
		s.outbox = append(s.outbox, reply...)
	}
	s.mu.Unlock()

	if len(reply) > 0 {
		s.signal(s.dataCh)
	}
	e := deviceError(0)
	e.PutUint32(uint32(accepted))
	return e, vxi11.AcceptSuccess
}

func (s *Server) deviceRead(d *vxi11.Decoder) (*vxi11.Encoder, uint32) {
	var fields [6]uint32
	for i := range fields {
		v, err := d.Uint32()
		if err != nil {
			return nil, vxi11.AcceptGarbageArgs
		}
		fields[i] = v
	}
	reqSize := int(fields[1])
	ioTimeout := time.Duration(fields[2]) * time.Millisecond
	flags := fields[4]
	termChar := byte(fields[5])

	// 清掉上一次调用残留的 abort 信号
	select {
	case <-s.abortCh:
	default:
	}

	timer := time.NewTimer(ioTimeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if len(s.outbox) > 0 {
			break
		}
		s.mu.Unlock()
		select {
		case <-s.dataCh:
		case <-s.abortCh:
			return readReply(vxi11.DevErrAbort, 0, nil), vxi11.AcceptSuccess
		case <-timer.C:
			return readReply(vxi11.DevErrIOTimeout, 0, nil), vxi11.AcceptSuccess
		}
	}
	defer s.mu.Unlock()

	n := min(reqSize, len(s.outbox))
	var reason uint32
	if flags&vxi11.FlagTermCharSet != 0 {
		if i := bytes.IndexByte(s.outbox[:n], termChar); i >= 0 {
			n = i + 1
			reason |= vxi11.ReasonChr
		}
	}
	data := bytes.Clone(s.outbox[:n])
	s.outbox = s.outbox[n:]
	if len(s.outbox) == 0 {
		reason |= vxi11.ReasonEnd
	} else if reason == 0 {
		reason |= vxi11.ReasonReqCnt
	}
	return readReply(0, reason, data), vxi11.AcceptSuccess
}

func (s *Server) lock(d *vxi11.Decoder) (*vxi11.Encoder, uint32) {
	lid, err := d.Int32()
	if err != nil {
		return nil, vxi11.AcceptGarbageArgs
	}
	flags, _ := d.Uint32()
	lockTimeout, _ := d.Uint32()

	deadline := time.Now().Add(time.Duration(lockTimeout) * time.Millisecond)
	for {
		s.mu.Lock()
		if s.lockedBy == 0 || s.lockedBy == lid {
			s.lockedBy = lid
			s.mu.Unlock()
			return deviceError(0), vxi11.AcceptSuccess
		}
		s.mu.Unlock()
		if flags&vxi11.FlagWaitLock == 0 || time.Now().After(deadline) {
			return deviceError(vxi11.DevErrDeviceLocked), vxi11.AcceptSuccess
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Server) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func deviceError(code uint32) *vxi11.Encoder {
	e := vxi11.NewEncoder()
	e.PutUint32(code)
	return e
}

func readReply(code, reason uint32, data []byte) *vxi11.Encoder {
	e := deviceError(code)
	e.PutUint32(reason)
	e.PutOpaque(data)
	return e
}

func port(l net.Listener) int {
	_, p, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
