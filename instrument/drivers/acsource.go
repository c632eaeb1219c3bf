package drivers

import (
	"context"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/instrument"
)

// ACSource 是 Keysight 6800 系列交流源的驱动。
type ACSource struct {
	base
}

var (
	_ instrument.Instrument  = (*ACSource)(nil)
	_ instrument.ACAnalyzer  = (*ACSource)(nil)
	_ instrument.Triggerable = (*ACSource)(nil)
)

// NewACSource 创建交流源驱动。
func NewACSource(s instrument.Session, id goscpi.Identity) *ACSource {
	return &ACSource{base: base{s: s, id: id, channels: 1}}
}

// fetch 依次查询 queries，把结果写入 dst 指向的字段。
func (a *ACSource) fetch(ctx context.Context, op string, queries []string, dst ...*float64) error {
	for i, q := range queries {
		v, err := a.queryFloat(ctx, op, 0, "%s", q)
		if err != nil {
			return err
		}
		*dst[i] = instrument.Overload(v)
	}
	return nil
}

// ReadACVoltage 读取最近一次测量的电压。
func (a *ACSource) ReadACVoltage(ctx context.Context) (instrument.ACVoltage, error) {
	var v instrument.ACVoltage
	err := a.fetch(ctx, "read voltage", []string{":FETC:VOLT?", ":FETC:VOLT:AC?"}, &v.DC, &v.ACRMS)
	return v, err
}

// ReadACCurrent 读取最近一次测量的电流。
func (a *ACSource) ReadACCurrent(ctx context.Context) (instrument.ACCurrent, error) {
	var c instrument.ACCurrent
	err := a.fetch(ctx, "read current",
		[]string{":FETC:CURR?", ":FETC:CURR:AC?", ":FETC:CURR:AMPL:MAX?"},
		&c.DC, &c.ACRMS, &c.Max)
	return c, err
}

// ReadACPower 读取最近一次测量的功率。
func (a *ACSource) ReadACPower(ctx context.Context) (instrument.ACPower, error) {
	var p instrument.ACPower
	err := a.fetch(ctx, "read power",
		[]string{":FETC:POW?", ":FETC:POW:AC?", ":FETC:POW:AC:APP?", ":FETC:POW:AC:REAC?", ":FETC:POW:AC:PFAC?"},
		&p.DC, &p.Real, &p.Apparent, &p.Reactive, &p.Factor)
	return p, err
}

// ReadFrequency 读取最近一次测量的频率。
func (a *ACSource) ReadFrequency(ctx context.Context) (float64, error) {
	return a.queryFloat(ctx, "read frequency", 0, ":FETC:FREQ?")
}

// Trigger 启动一次测量并等待完成。Fetch 系列方法读取这次测量的结果。
func (a *ACSource) Trigger(ctx context.Context) error {
	const op = "trigger"
	if err := a.command(ctx, op, 0, "INIT:IMM:SEQ3"); err != nil {
		return err
	}
	if err := a.command(ctx, op, 0, "TRIG:SEQ3:SOUR BUS"); err != nil {
		return err
	}
	if err := a.s.CommandWait(ctx, "*TRG"); err != nil {
		return instrument.Wrap(op, 0, err)
	}
	return instrument.Check(ctx, a.s, op, 0)
}
