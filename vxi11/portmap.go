package vxi11

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// GetPort 通过 portmapper（PMAPPROC_GETPORT）查询程序在 host 上注册的端口。
// pmapPort 为 0 时使用 111。
func GetPort(ctx context.Context, host string, pmapPort int, prog, vers, proto uint32, timeout time.Duration) (int, error) {
	if pmapPort == 0 {
		pmapPort = PortmapPort
	}
	conn, err := DialConn(ctx, net.JoinHostPort(host, strconv.Itoa(pmapPort)))
	if err != nil {
		return 0, fmt.Errorf("portmapper: %w", err)
	}
	defer conn.Close()

	e := NewEncoder()
	e.PutUint32(prog)
	e.PutUint32(vers)
	e.PutUint32(proto)
	e.PutUint32(0) // port 字段在查询中被忽略

	res, err := conn.Call(PortmapProgram, PortmapVersion, pmapProcGetPort, e.Bytes(), mergeDeadline(ctx, timeout))
	if err != nil {
		return 0, fmt.Errorf("portmapper getport: %w", err)
	}
	port, err := NewDecoder(res).Uint32()
	if err != nil {
		return 0, err
	}
	if port == 0 {
		return 0, fmt.Errorf("%w: prog %d vers %d", ErrNotRegistered, prog, vers)
	}
	if port > 65535 {
		return 0, NewProtocolError("portmapper getport", "port <= 65535", strconv.FormatUint(uint64(port), 10))
	}
	return int(port), nil
}

// mergeDeadline 返回 ctx 截止时间与 now+timeout 中较早的一个。
// timeout 为 0 时只使用 ctx 的截止时间（可能为零值）。
func mergeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		return ctxDeadline
	}
	return deadline
}
