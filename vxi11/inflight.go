package vxi11

import (
	"fmt"
	"sync/atomic"
)

// 核心通道调用的状态
const (
	callIdle int32 = iota
	callInFlight
	callAborted
)

// inflightTracker 跟踪核心通道上唯一的进行中调用，供 abort 通道判断是否有可中止的操作。
// abort 只能作用于进行中的调用：空闲时 MarkAborted 不生效。
type inflightTracker struct {
	state atomic.Int32
	proc  atomic.Uint32
}

// Begin 标记调用开始；已有调用进行中时返回错误。
func (t *inflightTracker) Begin(proc uint32) error {
	if !t.state.CompareAndSwap(callIdle, callInFlight) {
		return fmt.Errorf("%w: %s", ErrCallInFlight, ProcName(t.proc.Load()))
	}
	t.proc.Store(proc)
	return nil
}

// End 标记调用结束，返回该调用期间是否被中止过。
func (t *inflightTracker) End() (aborted bool) {
	return t.state.Swap(callIdle) == callAborted
}

// MarkAborted 将进行中的调用标记为已中止；没有进行中的调用时返回 false。
func (t *inflightTracker) MarkAborted() bool {
	return t.state.CompareAndSwap(callInFlight, callAborted)
}

// InFlight 返回当前是否有调用进行中。
func (t *inflightTracker) InFlight() bool {
	return t.state.Load() != callIdle
}

// Proc 返回最近一次调用的过程编号。
func (t *inflightTracker) Proc() uint32 {
	return t.proc.Load()
}
