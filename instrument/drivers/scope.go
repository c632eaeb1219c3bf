package drivers

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/instrument"
)

// wavedescSize 是 :WAV:PRE? 返回的波形描述符（WAVEDESC）长度。
const wavedescSize = 346

// WAVEDESC 中用到的字段偏移，小端
const (
	descCommType    = 32  // uint16，0 为字节，1 为字
	descPoints      = 116 // uint32
	descVertGain    = 156 // float32
	descVertOffset  = 160 // float32
	descCodePerDiv  = 164 // float32
	descInterval    = 176 // float32
	descHorizOffset = 180 // float64
	descAttenuation = 328 // float32
)

// DefaultChunkPoints 是每次 :WAV:DATA? 读取的最大点数。
const DefaultChunkPoints = 20000

// wavedesc 是解析后的波形描述符。
type wavedesc struct {
	commType    uint16
	points      uint32
	vertGain    float32
	vertOffset  float32
	codePerDiv  float32
	interval    float32
	horizOffset float64
	attenuation float32
}

func parseWavedesc(b []byte) (wavedesc, error) {
	if len(b) < wavedescSize {
		return wavedesc{}, fmt.Errorf("%w: wavedesc is %d bytes, want %d", goscpi.ErrTruncatedBlock, len(b), wavedescSize)
	}
	le := binary.LittleEndian
	f32 := func(off int) float32 { return math.Float32frombits(le.Uint32(b[off:])) }
	d := wavedesc{
		commType:    le.Uint16(b[descCommType:]),
		points:      le.Uint32(b[descPoints:]),
		vertGain:    f32(descVertGain),
		vertOffset:  f32(descVertOffset),
		codePerDiv:  f32(descCodePerDiv),
		interval:    f32(descInterval),
		horizOffset: math.Float64frombits(le.Uint64(b[descHorizOffset:])),
		attenuation: f32(descAttenuation),
	}
	if d.codePerDiv == 0 {
		return d, fmt.Errorf("%w: code per division is zero", goscpi.ErrProtocolDecode)
	}
	return d, nil
}

// width 返回每个采样点的字节数。
func (d wavedesc) width() int {
	if d.commType == 0 {
		return 1
	}
	return 2
}

// decode 把原始采样码值转换为电压并追加到 dst。
func (d wavedesc) decode(dst []float64, raw []byte) []float64 {
	scale := float64(d.attenuation) * float64(d.vertGain) / float64(d.codePerDiv)
	offset := float64(d.vertOffset)
	if d.width() == 1 {
		for _, c := range raw {
			dst = append(dst, float64(int8(c))*scale-offset)
		}
		return dst
	}
	for i := 0; i+1 < len(raw); i += 2 {
		code := int16(binary.LittleEndian.Uint16(raw[i:]))
		dst = append(dst, float64(code)*scale-offset)
	}
	return dst
}

// TriggerMode 是示波器的触发模式。
type TriggerMode uint8

const (
	TriggerAuto TriggerMode = iota
	TriggerNormal
	TriggerSingle
)

var triggerModes = [...]string{
	TriggerAuto:   "AUTO",
	TriggerNormal: "NORM",
	TriggerSingle: "SING",
}

func (m TriggerMode) String() string {
	if int(m) < len(triggerModes) {
		return triggerModes[m]
	}
	return "TriggerMode(" + strconv.Itoa(int(m)) + ")"
}

// Oscilloscope 是 Siglent SDS 系列示波器的驱动。
type Oscilloscope struct {
	base

	// ChunkPoints 是每次读取的最大点数，0 表示 DefaultChunkPoints
	ChunkPoints int
}

var (
	_ instrument.Instrument      = (*Oscilloscope)(nil)
	_ instrument.WaveformCapture = (*Oscilloscope)(nil)
	_ instrument.Triggerable     = (*Oscilloscope)(nil)
)

// NewOscilloscope 创建示波器驱动。通道数取自型号（SDS3104X 为 4 通道）。
func NewOscilloscope(s instrument.Session, id goscpi.Identity) *Oscilloscope {
	return &Oscilloscope{base: base{s: s, id: id, channels: scopeChannels(id.Model)}}
}

// scopeChannels 从型号的第七个字符读取通道数，无法识别时为 4。
func scopeChannels(model string) int {
	if len(model) > 6 && strings.HasPrefix(strings.ToUpper(model), "SDS") {
		switch model[6] {
		case '1', '2', '4', '8':
			return int(model[6] - '0')
		}
	}
	return 4
}

// Capture 读取通道 ch 的全部波形点，返回电压值。
func (o *Oscilloscope) Capture(ctx context.Context, ch int) ([]float64, error) {
	w, err := o.ReadWaveform(ctx, ch)
	if err != nil {
		return nil, err
	}
	return w.Samples, nil
}

// ReadWaveform 读取通道 ch 的波形和时间基准。数据按 ChunkPoints 分块读取。
func (o *Oscilloscope) ReadWaveform(ctx context.Context, ch int) (*instrument.Waveform, error) {
	const op = "capture"
	if err := o.checkChannel(op, ch); err != nil {
		return nil, err
	}
	chunk := o.ChunkPoints
	if chunk <= 0 {
		chunk = DefaultChunkPoints
	}

	for _, cmd := range []string{
		fmt.Sprintf(":WAV:SOUR C%d", ch),
		":WAV:STAR 0",
		fmt.Sprintf(":WAV:POIN %d", chunk),
		":WAV:INT 1",
		":WAV:WIDT WORD",
	} {
		if err := o.command(ctx, op, ch, "%s", cmd); err != nil {
			return nil, err
		}
	}

	pre, err := o.s.QueryBlock(ctx, ":WAV:PRE?")
	if err != nil {
		return nil, instrument.Wrap(op, ch, err)
	}
	desc, err := parseWavedesc(pre)
	if err != nil {
		return nil, instrument.Wrap(op, ch, err)
	}

	total := int(desc.points)
	w := &instrument.Waveform{
		Interval: float64(desc.interval),
		Offset:   desc.horizOffset,
		Samples:  make([]float64, 0, total),
	}
	for start := 0; start < total; start += chunk {
		n := min(chunk, total-start)
		if start > 0 {
			if err := o.command(ctx, op, ch, ":WAV:STAR %d", start); err != nil {
				return nil, err
			}
		}
		raw, err := o.s.QueryBlock(ctx, ":WAV:DATA?")
		if err != nil {
			return nil, instrument.Wrap(op, ch, err)
		}
		want := n * desc.width()
		if len(raw) < want {
			return nil, instrument.NewDeviceError(instrument.KindTruncatedData, op, ch,
				fmt.Sprintf("got %d of %d bytes at point %d", len(raw), want, start))
		}
		w.Samples = desc.decode(w.Samples, raw[:want])
	}
	return w, nil
}

// Enabled 查询通道是否打开。
func (o *Oscilloscope) Enabled(ctx context.Context, ch int) (bool, error) {
	const op = "channel enabled"
	if err := o.checkChannel(op, ch); err != nil {
		return false, err
	}
	reply, err := o.queryString(ctx, op, ch, ":CHAN%d:SWIT?", ch)
	if err != nil {
		return false, err
	}
	on, err := goscpi.ParseBool(reply)
	return on, instrument.Wrap(op, ch, err)
}

// SetEnabled 打开或关闭通道。
func (o *Oscilloscope) SetEnabled(ctx context.Context, ch int, on bool) error {
	const op = "set channel enabled"
	if err := o.checkChannel(op, ch); err != nil {
		return err
	}
	return o.command(ctx, op, ch, ":CHAN%d:SWIT %s", ch, onOff(on))
}

// TriggerMode 查询触发模式。
func (o *Oscilloscope) TriggerMode(ctx context.Context) (TriggerMode, error) {
	const op = "trigger mode"
	reply, err := o.queryString(ctx, op, 0, ":TRIG:MODE?")
	if err != nil {
		return 0, err
	}
	reply = strings.ToUpper(reply)
	for i, name := range triggerModes {
		if strings.HasPrefix(reply, name) {
			return TriggerMode(i), nil
		}
	}
	return 0, instrument.NewDeviceError(instrument.KindBadResponse, op, 0, "unknown trigger mode "+reply)
}

// SetTriggerMode 设置触发模式。
func (o *Oscilloscope) SetTriggerMode(ctx context.Context, mode TriggerMode) error {
	const op = "set trigger mode"
	if int(mode) >= len(triggerModes) {
		return instrument.NewDeviceError(instrument.KindNotSupported, op, 0, mode.String())
	}
	return o.command(ctx, op, 0, ":TRIG:MODE %s", mode)
}

// Trigger 立即强制触发一次。
func (o *Oscilloscope) Trigger(ctx context.Context) error {
	return o.command(ctx, "trigger", 0, ":TRIG:MODE FTRIG")
}

// MemoryDepth 查询存储深度（点数）。
func (o *Oscilloscope) MemoryDepth(ctx context.Context) (uint64, error) {
	const op = "memory depth"
	reply, err := o.queryString(ctx, op, 0, ":ACQ:MDEP?")
	if err != nil {
		return 0, err
	}
	depth, err := parseDepth(reply)
	return depth, instrument.Wrap(op, 0, err)
}

// SetMemoryDepth 设置存储深度，仪器只接受特定档位。
func (o *Oscilloscope) SetMemoryDepth(ctx context.Context, depth uint64) error {
	const op = "set memory depth"
	if err := o.command(ctx, op, 0, ":ACQ:MDEP %s", formatDepth(depth)); err != nil {
		return err
	}
	return instrument.Check(ctx, o.s, op, 0)
}

var depthSuffixes = []struct {
	suffix string
	mult   uint64
}{
	{"G", 1_000_000_000},
	{"M", 1_000_000},
	{"k", 1_000},
}

// parseDepth 解析带 k/M/G 后缀的点数，例如 "14k"、"2.5M"。
func parseDepth(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	mult := uint64(1)
	for _, d := range depthSuffixes {
		if strings.HasSuffix(s, d.suffix) || strings.HasSuffix(s, strings.ToUpper(d.suffix)) {
			s, mult = s[:len(s)-len(d.suffix)], d.mult
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, &goscpi.ReplyError{Reply: s, Expect: "memory depth"}
	}
	return uint64(math.Round(v * float64(mult))), nil
}

func formatDepth(depth uint64) string {
	for _, d := range depthSuffixes {
		if depth >= d.mult {
			return strconv.FormatUint(depth/d.mult, 10) + d.suffix
		}
	}
	return strconv.FormatUint(depth, 10)
}
