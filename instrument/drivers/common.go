package drivers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/instrument"
)

// base 保存所有驱动共有的状态。
type base struct {
	s        instrument.Session
	id       goscpi.Identity
	channels int
}

func (b *base) Identity() goscpi.Identity { return b.id }

func (b *base) Channels() int { return b.channels }

// checkChannel 检查通道号是否在 1..channels 之内。
func (b *base) checkChannel(op string, ch int) error {
	if ch < 1 || ch > b.channels {
		return instrument.NewDeviceError(instrument.KindChannelNotPresent, op, ch,
			fmt.Sprintf("%s has %d channels", b.id.Model, b.channels))
	}
	return nil
}

func (b *base) command(ctx context.Context, op string, ch int, format string, args ...any) error {
	return instrument.Wrap(op, ch, b.s.Command(ctx, fmt.Sprintf(format, args...)))
}

func (b *base) queryFloat(ctx context.Context, op string, ch int, format string, args ...any) (float64, error) {
	reply, err := b.s.Query(ctx, fmt.Sprintf(format, args...))
	if err != nil {
		return 0, instrument.Wrap(op, ch, err)
	}
	v, err := goscpi.ParseFloat(reply)
	return v, instrument.Wrap(op, ch, err)
}

func (b *base) queryString(ctx context.Context, op string, ch int, format string, args ...any) (string, error) {
	reply, err := b.s.Query(ctx, fmt.Sprintf(format, args...))
	return strings.Trim(reply, "\""), instrument.Wrap(op, ch, err)
}

// formatValue 以固定六位小数格式化设定值，避免指数形式。
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
