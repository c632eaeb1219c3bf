package instrument

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/xiabin827/goscpi"
)

func TestMapInstrumentErrors(t *testing.T) {
	tests := []struct {
		codes []int
		want  error
	}{
		{[]int{-222}, ErrOutOfRange},
		{[]int{-224}, ErrOutOfRange},
		{[]int{-241}, ErrChannelNotPresent},
		{[]int{-114}, ErrChannelNotPresent},
		{[]int{-113}, ErrInstrumentFault},
		{[]int{-113, -222}, ErrOutOfRange},
		{[]int{-350, -241, -222}, ErrChannelNotPresent},
	}
	for _, tt := range tests {
		var errs []goscpi.InstrumentError
		for _, c := range tt.codes {
			errs = append(errs, goscpi.InstrumentError{Code: c, Message: "x"})
		}
		err := MapInstrumentErrors("set voltage", 2, errs)
		if !errors.Is(err, tt.want) {
			t.Errorf("MapInstrumentErrors(%v) = %v, want %v", tt.codes, err, tt.want)
		}
		var de *DeviceError
		if !errors.As(err, &de) || len(de.Errs) != len(tt.codes) || de.Channel != 2 {
			t.Errorf("MapInstrumentErrors(%v) = %#v", tt.codes, err)
		}
	}

	if err := MapInstrumentErrors("op", 0, nil); err != nil {
		t.Errorf("MapInstrumentErrors(nil) = %v", err)
	}
}

func TestWrap(t *testing.T) {
	truncated := fmt.Errorf("%w: short", goscpi.ErrTruncatedBlock)
	err := Wrap("capture", 1, truncated)
	if !errors.Is(err, ErrTruncatedData) || !errors.Is(err, goscpi.ErrTruncatedBlock) {
		t.Errorf("Wrap(truncated) = %v", err)
	}

	_, perr := goscpi.ParseFloat("ON")
	if err := Wrap("read", 0, perr); !errors.Is(err, ErrBadResponse) {
		t.Errorf("Wrap(malformed) = %v", err)
	}

	if err := Wrap("read", 0, goscpi.ErrSessionTainted); IsDeviceError(err) || !errors.Is(err, goscpi.ErrSessionTainted) {
		t.Errorf("Wrap(tainted) = %v", err)
	}

	de := NewDeviceError(KindNotSupported, "op", 0, "")
	if Wrap("other", 0, de) != error(de) {
		t.Error("Wrap should pass DeviceError through")
	}
	if Wrap("op", 0, nil) != nil {
		t.Error("Wrap(nil) != nil")
	}
}

type errorQueueSession struct {
	Session
	errs []goscpi.InstrumentError
}

func (s *errorQueueSession) CheckErrors(ctx context.Context, maxIter int) ([]goscpi.InstrumentError, error) {
	return s.errs, nil
}

func TestCheck(t *testing.T) {
	s := &errorQueueSession{errs: []goscpi.InstrumentError{{Code: -222, Message: "Data out of range"}}}
	if err := Check(context.Background(), s, "set", 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Check = %v, want ErrOutOfRange", err)
	}
	s.errs = nil
	if err := Check(context.Background(), s, "set", 1); err != nil {
		t.Errorf("Check(empty) = %v", err)
	}
}

func TestLimit(t *testing.T) {
	l := Limit{Min: 0, Max: 30, Step: 0.001}
	for _, v := range []float64{0, 5, 30, 30.0000000001} {
		if err := l.Check("set", 1, v); err != nil {
			t.Errorf("Check(%v) = %v", v, err)
		}
	}
	for _, v := range []float64{-0.1, 30.01, math.NaN()} {
		if err := l.Check("set", 1, v); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Check(%v) = %v, want ErrOutOfRange", v, err)
		}
	}

	if got := l.Quantize(5.00049); math.Abs(got-5.0) > 1e-9 {
		t.Errorf("Quantize(5.00049) = %v", got)
	}
	if got := l.Quantize(31); got != 30 {
		t.Errorf("Quantize(31) = %v", got)
	}
	if got := (Limit{Min: -30, Max: 0}).Quantize(-12.3456); got != -12.3456 {
		t.Errorf("Quantize without step = %v", got)
	}
	if !(Limit{}).Zero() || l.Zero() {
		t.Error("Zero mismatch")
	}
}

func TestLookupChannel(t *testing.T) {
	specs := []ChannelSpec{
		{Voltage: Limit{Max: 30}, Current: Limit{Max: 3}},
		{Voltage: Limit{Max: 5}, Current: Limit{Max: 3}},
	}
	spec, err := LookupChannel(specs, "set", 2)
	if err != nil || spec.Voltage.Max != 5 {
		t.Errorf("LookupChannel(2) = %+v, %v", spec, err)
	}
	for _, ch := range []int{0, 3, -1} {
		if _, err := LookupChannel(specs, "set", ch); !errors.Is(err, ErrChannelNotPresent) {
			t.Errorf("LookupChannel(%d) = %v", ch, err)
		}
	}
}

func TestLookupModel(t *testing.T) {
	table := []ModelEntry[string]{
		{"DP932", "dp932"},
		{"DP932E", "dp932e"},
		{"SPD3303", "spd3303"},
	}
	tests := []struct {
		model string
		want  string
		ok    bool
	}{
		{"DP932E", "dp932e", true},
		{"DP932U", "dp932", true},
		{"dp932", "dp932", true},
		{"SPD3303X-E", "spd3303", true},
		{"DP832", "", false},
	}
	for _, tt := range tests {
		got, ok := LookupModel(table, tt.model)
		if ok != tt.ok || got != tt.want {
			t.Errorf("LookupModel(%q) = %q, %v", tt.model, got, ok)
		}
	}
	if p := ModelPrefixes(table); len(p) != 3 || p[0] != "DP932" {
		t.Errorf("ModelPrefixes = %v", p)
	}
}

func TestReadingString(t *testing.T) {
	tests := []struct {
		r    Reading
		want string
	}{
		{Reading{5, UnitVolt}, "5 V"},
		{Reading{0.0123, UnitAmpere}, "12.3 mA"},
		{Reading{4.7e-6, UnitFarad}, "4.7 µF"},
		{Reading{1.5e6, UnitOhm}, "1.5 MΩ"},
		{Reading{0, UnitHertz}, "0 Hz"},
		{Reading{-10.5, UnitDBm}, "-10.5 dBm"},
		{Reading{math.NaN(), UnitOhm}, "OVERLOAD Ω"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.r, got, tt.want)
		}
	}
}

func TestOverload(t *testing.T) {
	if !math.IsNaN(Overload(9.9e37)) || !math.IsNaN(Overload(-9.9e37)) {
		t.Error("9.9E+37 should be overload")
	}
	if Overload(1e6) != 1e6 {
		t.Error("normal value changed")
	}
}

func TestFreqConfig(t *testing.T) {
	c := FreqRange(1e6, 3e6, 1e3)
	if c.Center != 2e6 || c.Span != 2e6 || c.Start() != 1e6 || c.Stop() != 3e6 {
		t.Errorf("FreqRange = %+v", c)
	}
	tr := &Trace{Freq: c, Values: make([]float64, 3)}
	if tr.Frequency(0) != 1e6 || tr.Frequency(2) != 3e6 {
		t.Errorf("Frequency = %v, %v", tr.Frequency(0), tr.Frequency(2))
	}
}

func TestModeUnit(t *testing.T) {
	if ModeTemperature.Unit() != UnitCelsius || Mode4WResistance.Unit() != UnitOhm || ModeDiode.Unit() != UnitVolt {
		t.Error("mode units mismatch")
	}
	if ModeDCVoltage.String() != "DC voltage" {
		t.Errorf("String = %q", ModeDCVoltage.String())
	}
}
