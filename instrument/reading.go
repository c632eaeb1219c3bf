package instrument

import (
	"fmt"
	"math"
	"strconv"
)

// Unit 是测量值的单位。
type Unit uint8

const (
	UnitNone Unit = iota
	UnitVolt
	UnitAmpere
	UnitOhm
	UnitCelsius
	UnitHertz
	UnitSecond
	UnitFarad
	UnitHenry
	UnitWatt
	UnitDBm
	UnitDBmV
	UnitDBuA
)

var unitSymbols = [...]string{
	UnitNone:    "",
	UnitVolt:    "V",
	UnitAmpere:  "A",
	UnitOhm:     "Ω",
	UnitCelsius: "°C",
	UnitHertz:   "Hz",
	UnitSecond:  "s",
	UnitFarad:   "F",
	UnitHenry:   "H",
	UnitWatt:    "W",
	UnitDBm:     "dBm",
	UnitDBmV:    "dBmV",
	UnitDBuA:    "dBuA",
}

func (u Unit) String() string {
	if int(u) < len(unitSymbols) {
		return unitSymbols[u]
	}
	return "Unit(" + strconv.Itoa(int(u)) + ")"
}

// Logarithmic 报告单位是否为对数单位（不加 SI 前缀）。
func (u Unit) Logarithmic() bool {
	return u == UnitDBm || u == UnitDBmV || u == UnitDBuA
}

// OverloadThreshold 以上的读数表示仪器超量程（仪器通常返回 9.9E+37）。
const OverloadThreshold = 1e37

// Overload 把超量程的原始读数转换为 NaN。
func Overload(v float64) float64 {
	if math.Abs(v) > OverloadThreshold {
		return math.NaN()
	}
	return v
}

// Reading 是带单位的测量值，NaN 表示超量程。
type Reading struct {
	Value float64
	Unit  Unit
}

// IsOverload 报告读数是否超量程。
func (r Reading) IsOverload() bool {
	return math.IsNaN(r.Value)
}

func (r Reading) String() string {
	if r.IsOverload() {
		return "OVERLOAD " + r.Unit.String()
	}
	if r.Unit.Logarithmic() || r.Unit == UnitNone {
		return fmt.Sprintf("%.4g %s", r.Value, r.Unit)
	}
	scaled, prefix := SIPrefix(r.Value)
	return fmt.Sprintf("%.4g %s%s", scaled, prefix, r.Unit)
}

var siPrefixes = []struct {
	exp    int
	prefix string
}{
	{12, "T"}, {9, "G"}, {6, "M"}, {3, "k"}, {0, ""},
	{-3, "m"}, {-6, "µ"}, {-9, "n"}, {-12, "p"},
}

// SIPrefix 返回 v 缩放后的值和对应的 SI 前缀。
func SIPrefix(v float64) (float64, string) {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return v, ""
	}
	mag := math.Abs(v)
	for _, p := range siPrefixes {
		scale := math.Pow10(p.exp)
		if mag >= scale {
			return v / scale, p.prefix
		}
	}
	last := siPrefixes[len(siPrefixes)-1]
	return v / math.Pow10(last.exp), last.prefix
}

// Mode 是万用表的测量功能。
type Mode uint8

const (
	ModeDCVoltage Mode = iota
	ModeACVoltage
	ModeDCCurrent
	ModeACCurrent
	ModeContinuity
	ModeDiode
	ModeFrequency
	ModePeriod
	ModeTemperature
	ModeResistance
	Mode4WResistance
	ModeCapacitance
)

var modeNames = [...]string{
	ModeDCVoltage:    "DC voltage",
	ModeACVoltage:    "AC voltage",
	ModeDCCurrent:    "DC current",
	ModeACCurrent:    "AC current",
	ModeContinuity:   "continuity",
	ModeDiode:        "diode",
	ModeFrequency:    "frequency",
	ModePeriod:       "period",
	ModeTemperature:  "temperature",
	ModeResistance:   "2-wire resistance",
	Mode4WResistance: "4-wire resistance",
	ModeCapacitance:  "capacitance",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// Unit 返回该功能读数的单位。
func (m Mode) Unit() Unit {
	switch m {
	case ModeDCVoltage, ModeACVoltage, ModeDiode:
		return UnitVolt
	case ModeDCCurrent, ModeACCurrent:
		return UnitAmpere
	case ModeContinuity, ModeResistance, Mode4WResistance:
		return UnitOhm
	case ModeFrequency:
		return UnitHertz
	case ModePeriod:
		return UnitSecond
	case ModeTemperature:
		return UnitCelsius
	case ModeCapacitance:
		return UnitFarad
	}
	return UnitNone
}

// FreqConfig 是频谱分析仪的频率设置，单位 Hz。
type FreqConfig struct {
	Center    float64
	Span      float64
	Bandwidth float64 // 分辨率带宽
}

// Start 返回起始频率。
func (c FreqConfig) Start() float64 { return c.Center - c.Span/2 }

// Stop 返回终止频率。
func (c FreqConfig) Stop() float64 { return c.Center + c.Span/2 }

// FreqRange 用起止频率构造 FreqConfig。
func FreqRange(start, stop, rbw float64) FreqConfig {
	return FreqConfig{Center: (start + stop) / 2, Span: stop - start, Bandwidth: rbw}
}

// Trace 是频谱分析仪的一条迹线。
type Trace struct {
	Freq   FreqConfig
	Unit   Unit
	Values []float64
}

// Frequency 返回第 i 个点的频率。
func (t *Trace) Frequency(i int) float64 {
	if len(t.Values) < 2 {
		return t.Freq.Center
	}
	step := t.Freq.Span / float64(len(t.Values)-1)
	return t.Freq.Start() + float64(i)*step
}

// Waveform 是示波器一个通道的采集结果。
type Waveform struct {
	Interval float64 // 采样间隔，秒
	Offset   float64 // 第一个采样点相对触发点的时间，秒
	Samples  []float64
}

// Time 返回第 i 个采样点的时间。
func (w *Waveform) Time(i int) float64 {
	return w.Offset + float64(i)*w.Interval
}
