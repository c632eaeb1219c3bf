// Package drivers 提供具体型号的仪器驱动。New 根据 *IDN? 选择驱动：
//
//	Rigol DP7xx/DP8xx/DP9xx/DP2xxx  -> PowerSupply
//	Siglent SPD                     -> PowerSupply
//	Siglent SDM                     -> Multimeter
//	Siglent SDS                     -> Oscilloscope
//	Siglent SSA                     -> SpectrumAnalyzer
//	Keysight/Agilent 68xx, AC68xx   -> ACSource
package drivers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/instrument"
)

// ErrUnsupportedModel 表示没有驱动支持该型号，errors.Is 同时匹配 instrument.ErrNotSupported。
var ErrUnsupportedModel = errors.New("drivers: unsupported model")

// unsupportedError 同时匹配 ErrUnsupportedModel 和 instrument.ErrNotSupported。
type unsupportedError struct {
	id goscpi.Identity
}

func (e *unsupportedError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrUnsupportedModel, e.id.Manufacturer, e.id.Model)
}

func (e *unsupportedError) Is(target error) bool {
	return target == ErrUnsupportedModel || target == instrument.ErrNotSupported
}

func unsupported(id goscpi.Identity) error {
	return &unsupportedError{id: id}
}

// family 是型号前缀到驱动构造函数的映射。
type family struct {
	vendor string
	prefix string
	build  func(instrument.Session, goscpi.Identity) (instrument.Instrument, error)
}

func psuFamily(s instrument.Session, id goscpi.Identity) (instrument.Instrument, error) {
	p, err := NewPowerSupply(s, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

var families = []family{
	{"rigol", "DP7", psuFamily},
	{"rigol", "DP8", psuFamily},
	{"rigol", "DP9", psuFamily},
	{"rigol", "DP2", psuFamily},
	{"siglent", "SPD", psuFamily},
	{"siglent", "SDM", func(s instrument.Session, id goscpi.Identity) (instrument.Instrument, error) {
		return NewMultimeter(s, id), nil
	}},
	{"siglent", "SDS", func(s instrument.Session, id goscpi.Identity) (instrument.Instrument, error) {
		return NewOscilloscope(s, id), nil
	}},
	{"siglent", "SSA", func(s instrument.Session, id goscpi.Identity) (instrument.Instrument, error) {
		return NewSpectrumAnalyzer(s, id), nil
	}},
	{"keysight", "AC68", acFamily},
	{"keysight", "68", acFamily},
}

func acFamily(s instrument.Session, id goscpi.Identity) (instrument.Instrument, error) {
	return NewACSource(s, id), nil
}

// New 读取 *IDN? 并返回对应的驱动。没有驱动支持该型号时返回 ErrUnsupportedModel。
func New(ctx context.Context, s instrument.Session) (instrument.Instrument, error) {
	id, err := s.Identify(ctx)
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}
	return ForIdentity(s, id)
}

// ForIdentity 按已知的 *IDN? 信息选择驱动，不访问仪器。
func ForIdentity(s instrument.Session, id goscpi.Identity) (instrument.Instrument, error) {
	vendor := id.Vendor()
	model := strings.ToUpper(id.Model)
	for _, f := range families {
		if f.vendor == vendor && strings.HasPrefix(model, f.prefix) {
			return f.build(s, id)
		}
	}
	return nil, unsupported(id)
}
