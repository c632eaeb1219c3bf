package drivers

import (
	"context"
	"strings"
	"sync"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/instrument"
)

// dmmModes 是各测量功能的配置命令和 CONF? 应答中的功能名。
var dmmModes = map[instrument.Mode]struct {
	configure string
	function  string
}{
	instrument.ModeDCVoltage:    {"CONF:VOLT:DC", "VOLT"},
	instrument.ModeACVoltage:    {"CONF:VOLT:AC", "VOLT:AC"},
	instrument.ModeDCCurrent:    {"CONF:CURR:DC", "CURR"},
	instrument.ModeACCurrent:    {"CONF:CURR:AC", "CURR:AC"},
	instrument.ModeContinuity:   {"CONF:CONT", "CONT"},
	instrument.ModeDiode:        {"CONF:DIOD", "DIOD"},
	instrument.ModeFrequency:    {"CONF:FREQ", "FREQ"},
	instrument.ModePeriod:       {"CONF:PER", "PER"},
	instrument.ModeTemperature:  {"CONF:TEMP THER,NITS90", "TEMP"},
	instrument.ModeResistance:   {"CONF:RES", "RES"},
	instrument.Mode4WResistance: {"CONF:FRES", "FRES"},
	instrument.ModeCapacitance:  {"CONF:CAP", "CAP"},
}

// Multimeter 是 Siglent SDM 系列数字万用表的驱动。
type Multimeter struct {
	base

	mu    sync.Mutex
	mode  instrument.Mode
	known bool // mode 是否已知
}

var (
	_ instrument.Instrument = (*Multimeter)(nil)
	_ instrument.Multimeter = (*Multimeter)(nil)
)

// NewMultimeter 创建万用表驱动。
func NewMultimeter(s instrument.Session, id goscpi.Identity) *Multimeter {
	return &Multimeter{base: base{s: s, id: id, channels: 1}}
}

// SetMode 切换测量功能。
func (m *Multimeter) SetMode(ctx context.Context, mode instrument.Mode) error {
	const op = "set mode"
	conf, ok := dmmModes[mode]
	if !ok {
		return instrument.NewDeviceError(instrument.KindNotSupported, op, 0, mode.String())
	}
	if err := m.command(ctx, op, 0, "%s", conf.configure); err != nil {
		return err
	}
	if err := instrument.Check(ctx, m.s, op, 0); err != nil {
		return err
	}
	m.mu.Lock()
	m.mode, m.known = mode, true
	m.mu.Unlock()
	return nil
}

// Mode 查询当前测量功能。
func (m *Multimeter) Mode(ctx context.Context) (instrument.Mode, error) {
	const op = "mode"
	reply, err := m.queryString(ctx, op, 0, "CONF?")
	if err != nil {
		return 0, err
	}
	function, _, _ := strings.Cut(strings.TrimSpace(reply), " ")
	function = strings.ToUpper(function)
	for mode, conf := range dmmModes {
		if conf.function == function {
			m.mu.Lock()
			m.mode, m.known = mode, true
			m.mu.Unlock()
			return mode, nil
		}
	}
	return 0, instrument.NewDeviceError(instrument.KindBadResponse, op, 0, "unknown function "+reply)
}

// Read 触发一次测量并返回读数。超量程时读数为 NaN。
func (m *Multimeter) Read(ctx context.Context) (instrument.Reading, error) {
	const op = "read"
	m.mu.Lock()
	mode, known := m.mode, m.known
	m.mu.Unlock()
	if !known {
		var err error
		if mode, err = m.Mode(ctx); err != nil {
			return instrument.Reading{}, err
		}
	}

	reply, err := m.s.Query(ctx, "READ?")
	if err != nil {
		return instrument.Reading{}, instrument.Wrap(op, 0, err)
	}
	first, _, _ := strings.Cut(reply, ",")
	v, err := goscpi.ParseFloat(first)
	if err != nil {
		return instrument.Reading{}, instrument.Wrap(op, 0, err)
	}
	return instrument.Reading{Value: instrument.Overload(v), Unit: mode.Unit()}, nil
}
