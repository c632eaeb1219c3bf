package vxi11

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteRecord 以单个最终片段写入一条 RPC 记录（RFC 5531 第 11 节记录标记）。
func WriteRecord(w io.Writer, payload []byte) error {
	if len(payload) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload))|lastFragment)
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// ReadRecord 读取一条完整的 RPC 记录，拼接所有片段。
// I/O 错误原样包装返回，调用方据此区分超时和连接断开。
func ReadRecord(r io.Reader) ([]byte, error) {
	var (
		rec  []byte
		mark [4]byte
	)
	for {
		if _, err := io.ReadFull(r, mark[:]); err != nil {
			return nil, fmt.Errorf("read record mark: %w", err)
		}
		m := binary.BigEndian.Uint32(mark[:])
		size := int(m &^ lastFragment)
		if len(rec)+size > MaxRecordSize {
			return nil, NewProtocolError("read record",
				fmt.Sprintf("at most %d bytes", MaxRecordSize),
				fmt.Sprintf("%d bytes", len(rec)+size))
		}
		frag := make([]byte, size)
		if _, err := io.ReadFull(r, frag); err != nil {
			return nil, fmt.Errorf("read record fragment: %w", err)
		}
		rec = append(rec, frag...)
		if m&lastFragment != 0 {
			return rec, nil
		}
	}
}

// CallHeader 是 ONC-RPC 调用消息头，凭证和校验器固定为 AUTH_NULL。
type CallHeader struct {
	Xid       uint32
	Program   uint32
	Version   uint32
	Procedure uint32
}

// Encode 将调用头写入 e。
func (h *CallHeader) Encode(e *Encoder) {
	e.PutUint32(h.Xid)
	e.PutUint32(msgCall)
	e.PutUint32(RPCVersion)
	e.PutUint32(h.Program)
	e.PutUint32(h.Version)
	e.PutUint32(h.Procedure)
	// cred 与 verf：AUTH_NULL，长度 0
	e.PutUint32(authNull)
	e.PutUint32(0)
	e.PutUint32(authNull)
	e.PutUint32(0)
}

func (h CallHeader) String() string {
	return fmt.Sprintf("call{xid=0x%08x prog=%d vers=%d proc=%s}",
		h.Xid, h.Program, h.Version, ProcName(h.Procedure))
}

// ParseCall 解码调用头并跳过凭证和校验器，d 停在过程参数处。
func ParseCall(d *Decoder) (*CallHeader, error) {
	var h CallHeader
	var err error
	if h.Xid, err = d.Uint32(); err != nil {
		return nil, err
	}
	mtype, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if mtype != msgCall {
		return nil, NewProtocolError("parse call", "CALL", fmt.Sprintf("msg_type %d", mtype))
	}
	vers, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if vers != RPCVersion {
		return nil, NewProtocolError("parse call", "rpcvers 2", fmt.Sprintf("%d", vers))
	}
	if h.Program, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.Version, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.Procedure, err = d.Uint32(); err != nil {
		return nil, err
	}
	for i := 0; i < 2; i++ {
		if _, err := d.Uint32(); err != nil {
			return nil, err
		}
		if _, err := d.Opaque(); err != nil {
			return nil, err
		}
	}
	return &h, nil
}

// ReplyHeader 是 ONC-RPC 应答消息头。
type ReplyHeader struct {
	Xid      uint32
	Accepted bool
	Stat     uint32 // accept_stat 或 reject_stat
	Low      uint32 // PROG_MISMATCH / RPC_MISMATCH 时的版本范围
	High     uint32
}

// Encode 将应答头写入 e（校验器为 AUTH_NULL）。
func (h *ReplyHeader) Encode(e *Encoder) {
	e.PutUint32(h.Xid)
	e.PutUint32(msgReply)
	if !h.Accepted {
		e.PutUint32(replyDenied)
		e.PutUint32(h.Stat)
		if h.Stat == rejectRPCMismatch {
			e.PutUint32(h.Low)
			e.PutUint32(h.High)
		} else {
			e.PutUint32(0)
		}
		return
	}
	e.PutUint32(replyAccepted)
	e.PutUint32(authNull)
	e.PutUint32(0)
	e.PutUint32(h.Stat)
	if h.Stat == AcceptProgMismatch {
		e.PutUint32(h.Low)
		e.PutUint32(h.High)
	}
}

// Err 将非成功的应答状态转换为 RPCError。
func (h *ReplyHeader) Err() error {
	if h.Accepted && h.Stat == AcceptSuccess {
		return nil
	}
	return &RPCError{
		Xid:      h.Xid,
		Accepted: h.Accepted,
		Stat:     h.Stat,
		Low:      h.Low,
		High:     h.High,
	}
}

// ParseReply 解码应答头，成功时 d 停在过程结果处。
// 返回的错误只表示解码失败；RPC 状态通过 ReplyHeader.Err 获取。
func ParseReply(d *Decoder) (*ReplyHeader, error) {
	var h ReplyHeader
	var err error
	if h.Xid, err = d.Uint32(); err != nil {
		return nil, err
	}
	mtype, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if mtype != msgReply {
		return nil, NewProtocolError("parse reply", "REPLY", fmt.Sprintf("msg_type %d", mtype))
	}
	rstat, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	switch rstat {
	case replyAccepted:
		h.Accepted = true
		if _, err := d.Uint32(); err != nil {
			return nil, err
		}
		if _, err := d.Opaque(); err != nil {
			return nil, err
		}
		if h.Stat, err = d.Uint32(); err != nil {
			return nil, err
		}
		if h.Stat == AcceptProgMismatch {
			if h.Low, err = d.Uint32(); err != nil {
				return nil, err
			}
			if h.High, err = d.Uint32(); err != nil {
				return nil, err
			}
		}
	case replyDenied:
		if h.Stat, err = d.Uint32(); err != nil {
			return nil, err
		}
		switch h.Stat {
		case rejectRPCMismatch:
			if h.Low, err = d.Uint32(); err != nil {
				return nil, err
			}
			if h.High, err = d.Uint32(); err != nil {
				return nil, err
			}
		case rejectAuthError:
			if _, err := d.Uint32(); err != nil {
				return nil, err
			}
		default:
			return nil, NewProtocolError("parse reply", "reject_stat 0 or 1", fmt.Sprintf("%d", h.Stat))
		}
	default:
		return nil, NewProtocolError("parse reply", "reply_stat 0 or 1", fmt.Sprintf("%d", rstat))
	}
	return &h, nil
}
