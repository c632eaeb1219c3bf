package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xiabin827/goscpi/vxi11/vxi11test"
)

func dialVXI11(t *testing.T, h vxi11test.Handler) (*VXI11, *vxi11test.Server) {
	t.Helper()
	srv, err := vxi11test.NewServer(h)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	cfg := DefaultVXI11Config()
	cfg.PortmapPort = srv.PortmapPort()
	cfg.Timeout = time.Second
	cfg.ReadSize = 8
	tr, err := DialVXI11(context.Background(), srv.Host(), cfg)
	if err != nil {
		t.Fatalf("DialVXI11 failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, srv
}

func TestVXI11_QueryAcrossReads(t *testing.T) {
	tr, srv := dialVXI11(t, func(msg []byte) []byte {
		if bytes.HasPrefix(msg, []byte("*IDN?")) {
			return []byte("KEYSIGHT TECHNOLOGIES,AC6801B,MY00000001,A.01.02\n")
		}
		return nil
	})
	ctx := context.Background()

	if err := tr.Write(ctx, []byte("*IDN?\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := tr.ReadUntil(ctx, []byte("\n"))
	if err != nil {
		t.Fatalf("ReadUntil failed: %v", err)
	}
	if string(got) != "KEYSIGHT TECHNOLOGIES,AC6801B,MY00000001,A.01.02" {
		t.Errorf("reply = %q", got)
	}
	if !tr.EndOfMessage() {
		t.Error("EndOfMessage should be true after consuming the whole reply")
	}
	if msgs := srv.Messages(); len(msgs) != 1 || string(msgs[0]) != "*IDN?\n" {
		t.Errorf("server messages = %q", msgs)
	}
}

func TestVXI11_EndWithoutTerminator(t *testing.T) {
	tr, _ := dialVXI11(t, func([]byte) []byte { return []byte("+0,\"No error\"") })
	ctx := context.Background()

	tr.Write(ctx, []byte("SYST:ERR?\n"))
	got, err := tr.ReadUntil(ctx, []byte("\n"))
	if err != nil {
		t.Fatalf("ReadUntil failed: %v", err)
	}
	if string(got) != "+0,\"No error\"" {
		t.Errorf("reply = %q", got)
	}
}

func TestVXI11_BlockReadFull(t *testing.T) {
	payload := "#212HELLOWORLD!!"
	tr, _ := dialVXI11(t, func([]byte) []byte { return []byte(payload) })
	ctx := context.Background()

	tr.Write(ctx, []byte(":WAV:DATA?\n"))
	head, err := tr.ReadFull(ctx, 4)
	if err != nil || string(head) != "#212" {
		t.Fatalf("ReadFull(4) = %q, %v", head, err)
	}
	data, err := tr.ReadFull(ctx, 12)
	if err != nil || string(data) != "HELLOWORLD!!" {
		t.Fatalf("ReadFull(12) = %q, %v", data, err)
	}
	if !tr.EndOfMessage() {
		t.Error("EndOfMessage should be true after the block")
	}
}

func TestVXI11_ReadFullShortMessage(t *testing.T) {
	tr, _ := dialVXI11(t, func([]byte) []byte { return []byte("#212HELLOWORLD") })
	ctx := context.Background()

	tr.Write(ctx, []byte(":WAV:DATA?\n"))
	tr.ReadFull(ctx, 4)
	if _, err := tr.ReadFull(ctx, 12); !errors.Is(err, ErrShortRead) {
		t.Errorf("error = %v, want ErrShortRead", err)
	}
}

func TestVXI11_ReadTimeout(t *testing.T) {
	tr, _ := dialVXI11(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := tr.ReadUntil(ctx, []byte("\n"))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}

func TestVXI11_ClearAndClose(t *testing.T) {
	tr, srv := dialVXI11(t, func([]byte) []byte { return []byte("late reply\n") })
	ctx := context.Background()

	tr.Write(ctx, []byte("MEAS?\n"))
	if err := tr.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if srv.Clears() != 1 {
		t.Errorf("device_clear calls = %d, want 1", srv.Clears())
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if srv.Destroyed() != 1 {
		t.Errorf("destroy_link calls = %d, want 1", srv.Destroyed())
	}
}
