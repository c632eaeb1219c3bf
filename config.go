package goscpi

import (
	"log"
	"time"
)

// Config 保存 SCPI 会话的配置。
type Config struct {
	// Timeout 单次读写的超时（默认 5s）
	Timeout time.Duration

	// OPCTimeout 等待 *OPC? 完成的总预算（默认 30s）
	OPCTimeout time.Duration

	// WriteTerminator 追加到每条命令末尾（默认 "\n"）
	WriteTerminator string

	// ReadTerminator 应答的终止符（默认 "\n"）
	ReadTerminator string

	// MaxErrorQueue CheckErrors 未指定上限时最多读取的错误条数（默认 32）
	MaxErrorQueue int

	// ErrorQuery 读取错误队列的查询（默认 "SYST:ERR?"）
	ErrorQuery string

	// Logger 用于调试输出（nil 禁用日志）
	Logger *log.Logger
}

// DefaultConfig 返回带默认值的 Config。
func DefaultConfig() *Config {
	return &Config{
		Timeout:         5 * time.Second,
		OPCTimeout:      30 * time.Second,
		WriteTerminator: "\n",
		ReadTerminator:  "\n",
		MaxErrorQueue:   32,
		ErrorQuery:      "SYST:ERR?",
	}
}

// withDefaults 返回 c 的副本，零值字段用默认值补齐。
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.OPCTimeout <= 0 {
		out.OPCTimeout = def.OPCTimeout
	}
	if out.WriteTerminator == "" {
		out.WriteTerminator = def.WriteTerminator
	}
	if out.ReadTerminator == "" {
		out.ReadTerminator = def.ReadTerminator
	}
	if out.MaxErrorQueue <= 0 {
		out.MaxErrorQueue = def.MaxErrorQueue
	}
	if out.ErrorQuery == "" {
		out.ErrorQuery = def.ErrorQuery
	}
	return &out
}
