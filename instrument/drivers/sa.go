package drivers

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/instrument"
)

// saTraces 是频谱分析仪的迹线数。
const saTraces = 4

// saUnits 是 :UNIT:POW? 应答对应的单位，以及换算到该单位时要加的偏移。
// dBuV 换算为 dBmV。
var saUnits = map[string]struct {
	unit   instrument.Unit
	offset float64
}{
	"DBM":  {instrument.UnitDBm, 0},
	"DBMV": {instrument.UnitDBmV, 0},
	"DBUV": {instrument.UnitDBmV, -60},
	"DBUA": {instrument.UnitDBuA, 0},
	"V":    {instrument.UnitVolt, 0},
	"W":    {instrument.UnitWatt, 0},
}

// SpectrumAnalyzer 是 Siglent SSA 系列频谱分析仪的驱动。
type SpectrumAnalyzer struct {
	base
}

var (
	_ instrument.Instrument       = (*SpectrumAnalyzer)(nil)
	_ instrument.SpectrumAnalyzer = (*SpectrumAnalyzer)(nil)
)

// NewSpectrumAnalyzer 创建频谱分析仪驱动。
func NewSpectrumAnalyzer(s instrument.Session, id goscpi.Identity) *SpectrumAnalyzer {
	return &SpectrumAnalyzer{base: base{s: s, id: id, channels: 1}}
}

// FrequencyConfig 查询中心频率、扫宽和分辨率带宽。
func (a *SpectrumAnalyzer) FrequencyConfig(ctx context.Context) (instrument.FreqConfig, error) {
	const op = "frequency config"
	var (
		conf instrument.FreqConfig
		err  error
	)
	if conf.Center, err = a.queryFloat(ctx, op, 0, ":FREQ:CENT?"); err != nil {
		return conf, err
	}
	if conf.Span, err = a.queryFloat(ctx, op, 0, ":FREQ:SPAN?"); err != nil {
		return conf, err
	}
	conf.Bandwidth, err = a.queryFloat(ctx, op, 0, ":BWID?")
	return conf, err
}

// SetFrequencyConfig 设置中心频率、扫宽和分辨率带宽。
func (a *SpectrumAnalyzer) SetFrequencyConfig(ctx context.Context, conf instrument.FreqConfig) error {
	const op = "set frequency config"
	if conf.Span < 0 || conf.Bandwidth <= 0 {
		return instrument.NewDeviceError(instrument.KindOutOfRange, op, 0, "span and bandwidth must be positive")
	}
	if err := a.command(ctx, op, 0, ":FREQ:CENT %s", formatValue(conf.Center)); err != nil {
		return err
	}
	if err := a.command(ctx, op, 0, ":FREQ:SPAN %s", formatValue(conf.Span)); err != nil {
		return err
	}
	if err := a.command(ctx, op, 0, ":BWID %s", formatValue(conf.Bandwidth)); err != nil {
		return err
	}
	return instrument.Check(ctx, a.s, op, 0)
}

// ReadTrace 读取迹线 trace（1..4）。数据以 ASCII 格式传输。
func (a *SpectrumAnalyzer) ReadTrace(ctx context.Context, trace int) (*instrument.Trace, error) {
	const op = "read trace"
	if trace < 1 || trace > saTraces {
		return nil, instrument.NewDeviceError(instrument.KindChannelNotPresent, op, trace, "trace index out of range")
	}
	conf, err := a.FrequencyConfig(ctx)
	if err != nil {
		return nil, err
	}

	name, err := a.queryString(ctx, op, trace, ":UNIT:POW?")
	if err != nil {
		return nil, err
	}
	unit, ok := saUnits[strings.ToUpper(name)]
	if !ok {
		return nil, instrument.NewDeviceError(instrument.KindBadResponse, op, trace, "unknown unit "+name)
	}

	if err := a.command(ctx, op, trace, ":FORM ASC"); err != nil {
		return nil, err
	}
	reply, err := a.s.Query(ctx, fmt.Sprintf(":TRAC:DATA? %d", trace))
	if err != nil {
		return nil, instrument.Wrap(op, trace, err)
	}
	values, err := goscpi.ParseFloats(strings.TrimRight(strings.TrimSpace(reply), ","))
	if err != nil {
		return nil, instrument.Wrap(op, trace, err)
	}
	for i := range values {
		values[i] += unit.offset
	}
	return &instrument.Trace{Freq: conf, Unit: unit.unit, Values: values}, nil
}
