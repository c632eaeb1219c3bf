package instrument

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Limit 是一个量的可设定范围。Step 为 0 表示不量化。
type Limit struct {
	Min  float64
	Max  float64
	Step float64
}

// 比较范围边界时容许的浮点误差
const limitEpsilon = 1e-9

// Contains 报告 v 是否在范围内。
func (l Limit) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= l.Min-limitEpsilon && v <= l.Max+limitEpsilon
}

// Check 在 v 超出范围时返回 KindOutOfRange 的 DeviceError。
func (l Limit) Check(op string, ch int, v float64) error {
	if l.Contains(v) {
		return nil
	}
	return NewDeviceError(KindOutOfRange, op, ch, fmt.Sprintf("%g outside [%g, %g]", v, l.Min, l.Max))
}

// Quantize 把 v 舍入到从 Min 开始的最近一个步进点，并限制在范围内。
func (l Limit) Quantize(v float64) float64 {
	if l.Step > 0 {
		v = l.Min + math.Round((v-l.Min)/l.Step)*l.Step
	}
	return math.Min(math.Max(v, l.Min), l.Max)
}

// Zero 报告范围是否为空（通道的这个量不能编程）。
func (l Limit) Zero() bool {
	return l.Min == 0 && l.Max == 0
}

// ChannelSpec 描述电源一个通道的可设定范围。
type ChannelSpec struct {
	Voltage Limit
	Current Limit
}

// LookupChannel 返回通道 ch（从 1 开始）的规格。
func LookupChannel(specs []ChannelSpec, op string, ch int) (ChannelSpec, error) {
	if ch < 1 || ch > len(specs) {
		return ChannelSpec{}, NewDeviceError(KindChannelNotPresent, op, ch,
			fmt.Sprintf("model has %d channels", len(specs)))
	}
	return specs[ch-1], nil
}

// ModelEntry 是按型号前缀查找的表项。
type ModelEntry[T any] struct {
	Prefix string
	Value  T
}

// LookupModel 按最长前缀匹配在表中查找型号（大小写无关）。
func LookupModel[T any](table []ModelEntry[T], model string) (T, bool) {
	model = strings.ToUpper(model)
	best := -1
	for i, e := range table {
		if strings.HasPrefix(model, strings.ToUpper(e.Prefix)) && (best < 0 || len(e.Prefix) > len(table[best].Prefix)) {
			best = i
		}
	}
	if best < 0 {
		var zero T
		return zero, false
	}
	return table[best].Value, true
}

// ModelPrefixes 返回表中的全部前缀（排序后），用于错误信息。
func ModelPrefixes[T any](table []ModelEntry[T]) []string {
	out := make([]string, 0, len(table))
	for _, e := range table {
		out = append(out, e.Prefix)
	}
	sort.Strings(out)
	return out
}
