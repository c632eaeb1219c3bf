package vxi11

import (
	"encoding/binary"
	"fmt"
)

// Encoder 按 XDR（RFC 4506）编码：4 字节大端整数，
// 带长度前缀并填充到 4 字节对齐的 opaque 数据。
type Encoder struct {
	buf []byte
}

// NewEncoder 创建新的 Encoder。
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// PutUint32 写入无符号整数。
func (e *Encoder) PutUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

// PutInt32 写入有符号整数。
func (e *Encoder) PutInt32(v int32) {
	e.PutUint32(uint32(v))
}

// PutBool 写入布尔值（0 或 1）。
func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutUint32(1)
	} else {
		e.PutUint32(0)
	}
}

// PutOpaque 写入变长 opaque 数据并填充。
func (e *Encoder) PutOpaque(p []byte) {
	e.PutUint32(uint32(len(p)))
	e.buf = append(e.buf, p...)
	if pad := padding(len(p)); pad > 0 {
		e.buf = append(e.buf, make([]byte, pad)...)
	}
}

// PutString 写入字符串（与 opaque 编码相同）。
func (e *Encoder) PutString(s string) {
	e.PutOpaque([]byte(s))
}

// Append 追加已经编码好的 XDR 数据，长度必须是 4 的倍数。
func (e *Encoder) Append(p []byte) {
	e.buf = append(e.buf, p...)
}

// Bytes 返回编码结果。
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len 返回已编码字节数。
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Decoder 按 XDR 解码；任何长度或对齐错误都是 ErrProtocolDecode。
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder 创建读取 p 的 Decoder。
func NewDecoder(p []byte) *Decoder {
	return &Decoder{buf: p}
}

// Uint32 读取无符号整数。
func (d *Decoder) Uint32() (uint32, error) {
	if len(d.buf)-d.off < 4 {
		return 0, NewProtocolError("xdr decode", "4 bytes",
			fmt.Sprintf("%d bytes", len(d.buf)-d.off))
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

// Int32 读取有符号整数。
func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

// Bool 读取布尔值，只接受 0 和 1。
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint32()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, NewProtocolError("xdr decode", "bool 0 or 1", fmt.Sprintf("%d", v))
}

// Opaque 读取变长 opaque 数据（返回的切片是副本）。
func (d *Decoder) Opaque() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	size := int(n) + padding(int(n))
	if n > MaxRecordSize || len(d.buf)-d.off < size {
		return nil, NewProtocolError("xdr decode",
			fmt.Sprintf("%d opaque bytes", size),
			fmt.Sprintf("%d bytes", len(d.buf)-d.off))
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:])
	d.off += size
	return out, nil
}

// String 读取字符串。
func (d *Decoder) String() (string, error) {
	p, err := d.Opaque()
	return string(p), err
}

// Remaining 返回尚未解码的数据。
func (d *Decoder) Remaining() []byte {
	return d.buf[d.off:]
}

// Len 返回剩余字节数。
func (d *Decoder) Len() int {
	return len(d.buf) - d.off
}

// padding 返回长度 n 对齐到 4 字节所需的填充。
func padding(n int) int {
	return (4 - n%4) % 4
}
