// Package instrument 定义仪器能力接口。每个接口对应一个可测量或可控制的量，
// 具体型号的驱动（见 drivers 子包）把能力调用翻译成各自方言的 SCPI 命令。
//
// 通道编号从 1 开始。驱动只通过 Session 与仪器通信，不直接接触传输。
package instrument

import (
	"context"

	"github.com/xiabin827/goscpi"
)

// Session 是驱动使用的 SCPI 会话接口，*goscpi.Session 实现了它。
type Session interface {
	Command(ctx context.Context, cmd string) error
	Query(ctx context.Context, q string) (string, error)
	QueryBlock(ctx context.Context, q string) ([]byte, error)
	CommandWait(ctx context.Context, cmd string) error
	CheckErrors(ctx context.Context, maxIter int) ([]goscpi.InstrumentError, error)
	Identify(ctx context.Context) (goscpi.Identity, error)
}

var _ Session = (*goscpi.Session)(nil)

// Instrument 是所有驱动共有的部分。
type Instrument interface {
	// Identity 返回连接时读取的 *IDN? 信息
	Identity() goscpi.Identity

	// Channels 返回通道数
	Channels() int
}

// VoltageSource 可以设定输出电压并读回设定值。
type VoltageSource interface {
	SetVoltage(ctx context.Context, ch int, volts float64) error
	ReadVoltage(ctx context.Context, ch int) (float64, error)
}

// CurrentSource 可以设定电流限值并读回设定值。
type CurrentSource interface {
	SetCurrent(ctx context.Context, ch int, amps float64) error
	ReadCurrent(ctx context.Context, ch int) (float64, error)
}

// VoltageReadback 测量实际输出电压。
type VoltageReadback interface {
	MeasureVoltage(ctx context.Context, ch int) (float64, error)
}

// CurrentReadback 测量实际输出电流。
type CurrentReadback interface {
	MeasureCurrent(ctx context.Context, ch int) (float64, error)
}

// PowerReadback 测量实际输出功率。
type PowerReadback interface {
	MeasurePower(ctx context.Context, ch int) (float64, error)
}

// OutputSwitch 打开或关闭通道输出。
type OutputSwitch interface {
	SetOutput(ctx context.Context, ch int, on bool) error
	Output(ctx context.Context, ch int) (bool, error)
}

// ChannelSelectable 可以选择当前操作的通道（面板上的活动通道）。
type ChannelSelectable interface {
	SelectChannel(ctx context.Context, ch int) error
}

// WaveformCapture 读取一个通道的波形，返回按采样顺序排列的电压值。
type WaveformCapture interface {
	Capture(ctx context.Context, ch int) ([]float64, error)
}

// Triggerable 可以由软件触发一次测量或采集。
type Triggerable interface {
	Trigger(ctx context.Context) error
}

// Multimeter 是数字万用表。
type Multimeter interface {
	SetMode(ctx context.Context, mode Mode) error
	Mode(ctx context.Context) (Mode, error)
	Read(ctx context.Context) (Reading, error)
}

// SpectrumAnalyzer 是频谱分析仪。
type SpectrumAnalyzer interface {
	FrequencyConfig(ctx context.Context) (FreqConfig, error)
	SetFrequencyConfig(ctx context.Context, conf FreqConfig) error
	ReadTrace(ctx context.Context, trace int) (*Trace, error)
}

// ACAnalyzer 是带测量功能的交流源。
type ACAnalyzer interface {
	ReadACVoltage(ctx context.Context) (ACVoltage, error)
	ReadACCurrent(ctx context.Context) (ACCurrent, error)
	ReadACPower(ctx context.Context) (ACPower, error)
	ReadFrequency(ctx context.Context) (float64, error)
}

// PowerSupply 是可编程直流电源的完整能力集合。
type PowerSupply interface {
	Instrument
	VoltageSource
	CurrentSource
	VoltageReadback
	CurrentReadback
	PowerReadback
	OutputSwitch
	ChannelSelectable
}

// ACVoltage 是交流源的电压测量结果。
type ACVoltage struct {
	DC    float64
	ACRMS float64
}

// ACCurrent 是交流源的电流测量结果。
type ACCurrent struct {
	DC    float64
	ACRMS float64
	Max   float64
}

// ACPower 是交流源的功率测量结果。
type ACPower struct {
	DC       float64
	Real     float64
	Apparent float64
	Reactive float64
	Factor   float64
}
