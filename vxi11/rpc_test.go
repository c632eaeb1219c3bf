package vxi11

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncoder_Opaque(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{"empty", nil, []byte{0, 0, 0, 0}},
		{"aligned", []byte("abcd"), []byte{0, 0, 0, 4, 'a', 'b', 'c', 'd'}},
		{"one byte", []byte("x"), []byte{0, 0, 0, 1, 'x', 0, 0, 0}},
		{"three bytes", []byte("*ID"), []byte{0, 0, 0, 3, '*', 'I', 'D', 0}},
		{"five bytes", []byte("inst0"), []byte{0, 0, 0, 5, 'i', 'n', 's', 't', '0', 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder()
			e.PutOpaque(tt.data)
			if !bytes.Equal(e.Bytes(), tt.want) {
				t.Errorf("encoded = %v, want %v", e.Bytes(), tt.want)
			}
			if e.Len()%4 != 0 {
				t.Errorf("encoded length %d not 4-byte aligned", e.Len())
			}

			d := NewDecoder(e.Bytes())
			got, err := d.Opaque()
			if err != nil {
				t.Fatalf("Opaque failed: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("decoded = %q, want %q", got, tt.data)
			}
			if d.Len() != 0 {
				t.Errorf("%d bytes left after decode", d.Len())
			}
		})
	}
}

func TestDecoder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		decode func(*Decoder) error
	}{
		{"short uint32", []byte{0, 0, 1}, func(d *Decoder) error { _, err := d.Uint32(); return err }},
		{"bad bool", []byte{0, 0, 0, 2}, func(d *Decoder) error { _, err := d.Bool(); return err }},
		{"opaque longer than buffer", []byte{0, 0, 0, 8, 'a', 'b'}, func(d *Decoder) error { _, err := d.Opaque(); return err }},
		{"opaque missing padding", []byte{0, 0, 0, 1, 'a'}, func(d *Decoder) error { _, err := d.Opaque(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode(NewDecoder(tt.data))
			if !errors.Is(err, ErrProtocolDecode) {
				t.Errorf("error = %v, want ErrProtocolDecode", err)
			}
		})
	}
}

func TestRecord_ReadWrite(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("0123456789")
	if err := WriteRecord(&buf, payload); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}

	mark := binary.BigEndian.Uint32(buf.Bytes()[:4])
	if mark != 0x80000000|uint32(len(payload)) {
		t.Errorf("record mark = 0x%08x, want 0x%08x", mark, 0x80000000|len(payload))
	}

	got, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("record = %q, want %q", got, payload)
	}
}

func TestRecord_Fragments(t *testing.T) {
	var buf bytes.Buffer
	frag := func(last bool, data string) {
		mark := uint32(len(data))
		if last {
			mark |= 0x80000000
		}
		binary.Write(&buf, binary.BigEndian, mark)
		buf.WriteString(data)
	}
	frag(false, "abc")
	frag(false, "def")
	frag(true, "gh")

	got, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if string(got) != "abcdefgh" {
		t.Errorf("record = %q, want %q", got, "abcdefgh")
	}
}

func TestRecord_Truncated(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x80, 0, 0, 10, 'a', 'b'})
	_, err := ReadRecord(buf)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestRecord_TooLarge(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadRecord(buf)
	if !errors.Is(err, ErrProtocolDecode) {
		t.Errorf("error = %v, want ErrProtocolDecode", err)
	}
}

func TestCallHeader_RoundTrip(t *testing.T) {
	h := &CallHeader{Xid: 0x1234, Program: CoreProgram, Version: CoreVersion, Procedure: ProcDeviceWrite}
	e := NewEncoder()
	h.Encode(e)
	e.PutInt32(7)

	// xid, CALL, rpcvers, prog, vers, proc, cred(2), verf(2)
	if e.Len() != 10*4+4 {
		t.Fatalf("encoded length = %d, want %d", e.Len(), 10*4+4)
	}

	d := NewDecoder(e.Bytes())
	got, err := ParseCall(d)
	if err != nil {
		t.Fatalf("ParseCall failed: %v", err)
	}
	if *got != *h {
		t.Errorf("header = %+v, want %+v", *got, *h)
	}
	if v, _ := d.Int32(); v != 7 {
		t.Errorf("args = %d, want 7", v)
	}
}

func TestReplyHeader_Status(t *testing.T) {
	tests := []struct {
		name    string
		header  ReplyHeader
		wantErr bool
	}{
		{"success", ReplyHeader{Xid: 1, Accepted: true, Stat: AcceptSuccess}, false},
		{"prog unavailable", ReplyHeader{Xid: 2, Accepted: true, Stat: AcceptProgUnavail}, true},
		{"prog mismatch", ReplyHeader{Xid: 3, Accepted: true, Stat: AcceptProgMismatch, Low: 1, High: 1}, true},
		{"proc unavailable", ReplyHeader{Xid: 4, Accepted: true, Stat: AcceptProcUnavail}, true},
		{"garbage args", ReplyHeader{Xid: 5, Accepted: true, Stat: AcceptGarbageArgs}, true},
		{"system error", ReplyHeader{Xid: 6, Accepted: true, Stat: AcceptSystemErr}, true},
		{"rpc mismatch", ReplyHeader{Xid: 7, Stat: rejectRPCMismatch, Low: 2, High: 2}, true},
		{"auth error", ReplyHeader{Xid: 8, Stat: rejectAuthError}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder()
			tt.header.Encode(e)

			got, err := ParseReply(NewDecoder(e.Bytes()))
			if err != nil {
				t.Fatalf("ParseReply failed: %v", err)
			}
			if got.Xid != tt.header.Xid || got.Accepted != tt.header.Accepted || got.Stat != tt.header.Stat {
				t.Errorf("header = %+v, want %+v", *got, tt.header)
			}
			if got.Low != tt.header.Low || got.High != tt.header.High {
				t.Errorf("version range = %d-%d, want %d-%d", got.Low, got.High, tt.header.Low, tt.header.High)
			}

			rerr := got.Err()
			if (rerr != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", rerr, tt.wantErr)
			}
			if rerr != nil && !IsRPCError(rerr) {
				t.Errorf("Err() = %T, want *RPCError", rerr)
			}
		})
	}
}

func TestParseReply_NotAReply(t *testing.T) {
	e := NewEncoder()
	(&CallHeader{Xid: 9, Program: CoreProgram, Version: 1, Procedure: ProcCreateLink}).Encode(e)

	_, err := ParseReply(NewDecoder(e.Bytes()))
	if !errors.Is(err, ErrProtocolDecode) {
		t.Errorf("error = %v, want ErrProtocolDecode", err)
	}
}

func TestDeviceError_Is(t *testing.T) {
	tests := []struct {
		code   uint32
		target error
	}{
		{DevErrIOTimeout, ErrTimeout},
		{DevErrDeviceLocked, ErrLockTimeout},
		{DevErrNoLockHeld, ErrNotLocked},
		{DevErrAbort, ErrAborted},
	}
	for _, tt := range tests {
		err := NewDeviceError("op", tt.code)
		if !errors.Is(err, tt.target) {
			t.Errorf("code %d: errors.Is(%v) = false", tt.code, tt.target)
		}
		if !IsDeviceError(err) {
			t.Errorf("code %d: IsDeviceError = false", tt.code)
		}
	}
	if NewDeviceError("op", DevErrNoError) != nil {
		t.Error("NewDeviceError(0) should be nil")
	}
}
