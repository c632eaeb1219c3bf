package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

// chunk 是一次 fill 返回的数据。
type chunk struct {
	data string
	end  bool
	err  error
}

func scripted(chunks ...chunk) *frameReader {
	fr := &frameReader{}
	fr.fill = func(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
		if len(chunks) == 0 {
			return nil, false, ErrTimeout
		}
		c := chunks[0]
		chunks = chunks[1:]
		return []byte(c.data), c.end, c.err
	}
	return fr
}

func TestFrameReader_ReadUntil(t *testing.T) {
	tests := []struct {
		name   string
		chunks []chunk
		term   string
		want   []string
		left   int
	}{
		{
			name:   "exact message leaves nothing buffered",
			chunks: []chunk{{data: "1.234\n"}},
			term:   "\n",
			want:   []string{"1.234"},
			left:   0,
		},
		{
			name:   "split across reads",
			chunks: []chunk{{data: "RIGOL,DP8"}, {data: "32,SN,1."}, {data: "0\n"}},
			term:   "\n",
			want:   []string{"RIGOL,DP832,SN,1.0"},
		},
		{
			name:   "two replies in one read",
			chunks: []chunk{{data: "1\n0\n"}},
			term:   "\n",
			want:   []string{"1", "0"},
		},
		{
			name:   "extra bytes stay buffered",
			chunks: []chunk{{data: "+5.0\n#2"}},
			term:   "\n",
			want:   []string{"+5.0"},
			left:   2,
		},
		{
			name:   "multi-byte terminator",
			chunks: []chunk{{data: "OK\r"}, {data: "\nNEXT\r\n"}},
			term:   "\r\n",
			want:   []string{"OK", "NEXT"},
		},
		{
			name:   "end of message without terminator",
			chunks: []chunk{{data: "0,\"No error\"", end: true}},
			term:   "\n",
			want:   []string{"0,\"No error\""},
		},
		{
			name:   "end of message with terminator stripped",
			chunks: []chunk{{data: "1.5\n", end: true}},
			term:   "\n",
			want:   []string{"1.5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := scripted(tt.chunks...)
			for _, want := range tt.want {
				got, err := fr.readUntil(context.Background(), []byte(tt.term), time.Time{})
				if err != nil {
					t.Fatalf("readUntil failed: %v", err)
				}
				if string(got) != want {
					t.Errorf("readUntil = %q, want %q", got, want)
				}
			}
			if fr.Buffered() != tt.left {
				t.Errorf("buffered = %d, want %d", fr.Buffered(), tt.left)
			}
		})
	}
}

func TestFrameReader_ReadFull(t *testing.T) {
	fr := scripted(chunk{data: "#21"}, chunk{data: "2HELLO"}, chunk{data: "WORLD!\n"})
	ctx := context.Background()

	head, err := fr.readFull(ctx, 2, time.Time{})
	if err != nil || string(head) != "#2" {
		t.Fatalf("readFull(2) = %q, %v", head, err)
	}
	n, err := fr.readFull(ctx, 2, time.Time{})
	if err != nil || string(n) != "12" {
		t.Fatalf("readFull(2) = %q, %v", n, err)
	}
	data, err := fr.readFull(ctx, 12, time.Time{})
	if err != nil || string(data) != "HELLOWORLD!\n" {
		t.Fatalf("readFull(12) = %q, %v", data, err)
	}
	if fr.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", fr.Buffered())
	}
}

func TestFrameReader_ReadFullShort(t *testing.T) {
	fr := scripted(chunk{data: "0123456789", end: true})

	_, err := fr.readFull(context.Background(), 12, time.Time{})
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("error = %v, want ErrShortRead", err)
	}
	if fr.Buffered() != 0 {
		t.Errorf("short message left %d bytes buffered", fr.Buffered())
	}
}

func TestFrameReader_EndOfMessage(t *testing.T) {
	fr := scripted(chunk{data: "#15ABCDE", end: true})
	ctx := context.Background()

	fr.readFull(ctx, 3, time.Time{})
	if fr.eom {
		t.Error("eom set before message consumed")
	}
	fr.readFull(ctx, 5, time.Time{})
	if !fr.eom {
		t.Error("eom not set after message consumed")
	}
}

func TestFrameReader_Deadline(t *testing.T) {
	fr := &frameReader{}
	calls := 0
	fr.fill = func(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
		calls++
		time.Sleep(5 * time.Millisecond)
		return nil, false, nil // 空闲
	}

	_, err := fr.readUntil(context.Background(), []byte("\n"), time.Now().Add(30*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if calls == 0 {
		t.Error("fill never called")
	}
}

func TestFrameReader_ContextCanceled(t *testing.T) {
	fr := scripted(chunk{data: "partial"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fr.readUntil(ctx, []byte("\n"), time.Time{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDeadlineFor(t *testing.T) {
	soon, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		timeout time.Duration
		want    time.Duration // 0 表示零值截止时间
	}{
		{"timeout only", context.Background(), time.Second, time.Second},
		{"ctx earlier", soon, time.Second, 100 * time.Millisecond},
		{"timeout earlier", soon, 10 * time.Millisecond, 10 * time.Millisecond},
		{"neither", context.Background(), 0, 0},
		{"override longer", WithTimeout(context.Background(), 30*time.Second), time.Second, 30 * time.Second},
		{"override bounded by ctx", WithTimeout(soon, 30*time.Second), time.Second, 100 * time.Millisecond},
		{"zero override ignored", WithTimeout(context.Background(), 0), time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deadlineFor(tt.ctx, tt.timeout)
			if tt.want == 0 {
				if !got.IsZero() {
					t.Errorf("deadline = %v, want zero", got)
				}
				return
			}
			if d := time.Until(got); d > tt.want || d < tt.want-50*time.Millisecond {
				t.Errorf("deadline in %v, want about %v", d, tt.want)
			}
		})
	}
}
