package vxi11

import (
	"errors"
	"sync"
	"testing"
)

func TestInflightTracker_BeginEnd(t *testing.T) {
	var tr inflightTracker

	if tr.InFlight() {
		t.Fatal("new tracker should be idle")
	}
	if err := tr.Begin(ProcDeviceRead); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !tr.InFlight() {
		t.Error("InFlight should be true after Begin")
	}
	if tr.Proc() != ProcDeviceRead {
		t.Errorf("Proc = %d, want %d", tr.Proc(), ProcDeviceRead)
	}

	// 同时只能有一个进行中的调用
	if err := tr.Begin(ProcDeviceWrite); !errors.Is(err, ErrCallInFlight) {
		t.Errorf("second Begin error = %v, want ErrCallInFlight", err)
	}

	if aborted := tr.End(); aborted {
		t.Error("End reported abort without MarkAborted")
	}
	if tr.InFlight() {
		t.Error("InFlight should be false after End")
	}
}

func TestInflightTracker_AbortOnlyWhenInFlight(t *testing.T) {
	var tr inflightTracker

	if tr.MarkAborted() {
		t.Fatal("MarkAborted on idle tracker should return false")
	}

	tr.Begin(ProcDeviceRead)
	if !tr.MarkAborted() {
		t.Fatal("MarkAborted on in-flight call should return true")
	}
	// 重复中止无效
	if tr.MarkAborted() {
		t.Error("second MarkAborted should return false")
	}
	if !tr.End() {
		t.Error("End should report the abort")
	}

	// 中止标记不会延续到下一次调用
	tr.Begin(ProcDeviceRead)
	if tr.End() {
		t.Error("abort leaked into the next call")
	}
}

func TestInflightTracker_ConcurrentAbort(t *testing.T) {
	var tr inflightTracker
	tr.Begin(ProcDeviceRead)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		marks int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.MarkAborted() {
				mu.Lock()
				marks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if marks != 1 {
		t.Errorf("MarkAborted succeeded %d times, want 1", marks)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		reason Reason
		done   bool
		str    string
	}{
		{Reason(ReasonReqCnt), false, "REQCNT"},
		{Reason(ReasonChr), true, "CHR"},
		{Reason(ReasonEnd), true, "END"},
		{Reason(ReasonChr | ReasonEnd), true, "CHR|END"},
		{0, false, "0"},
	}
	for _, tt := range tests {
		if tt.reason.Done() != tt.done {
			t.Errorf("%s: Done = %v, want %v", tt.str, tt.reason.Done(), tt.done)
		}
		if tt.reason.String() != tt.str {
			t.Errorf("String = %q, want %q", tt.reason.String(), tt.str)
		}
	}
}

func TestCompletedBeforeAbort(t *testing.T) {
	reply := func(code uint32) []byte {
		e := NewEncoder()
		e.PutUint32(code)
		return e.Bytes()
	}

	tests := []struct {
		name string
		res  []byte
		err  error
		want bool
	}{
		{"success reply", reply(0), nil, true},
		{"device error reply", reply(DevErrIOTimeout), nil, true},
		{"abort reply", reply(DevErrAbort), nil, false},
		{"no reply", nil, ErrTimeout, false},
		{"empty reply", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := completedBeforeAbort(tt.res, tt.err); got != tt.want {
				t.Errorf("completedBeforeAbort = %v, want %v", got, tt.want)
			}
		})
	}
}
