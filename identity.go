package goscpi

import (
	"fmt"
	"strings"
)

// Identity 是 *IDN? 应答的四个字段。
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// ParseIdentity 解析 *IDN? 应答，至少需要厂商和型号两个字段。
func ParseIdentity(s string) (Identity, error) {
	fields := strings.Split(trimReply(s), ",")
	if len(fields) < 2 {
		return Identity{}, malformed(s, "<manufacturer>,<model>[,<serial>[,<firmware>]]")
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	id := Identity{Manufacturer: fields[0], Model: fields[1]}
	if len(fields) > 2 {
		id.Serial = fields[2]
	}
	if len(fields) > 3 {
		id.Firmware = strings.Join(fields[3:], ",")
	}
	if id.Manufacturer == "" || id.Model == "" {
		return Identity{}, malformed(s, "<manufacturer>,<model>[,<serial>[,<firmware>]]")
	}
	return id, nil
}

// Vendor 返回小写的厂商名，Agilent 和 HP 归入 keysight。
func (id Identity) Vendor() string {
	m := strings.ToLower(id.Manufacturer)
	switch {
	case strings.Contains(m, "keysight"), strings.Contains(m, "agilent"), strings.HasPrefix(m, "hewlett"), m == "hp":
		return "keysight"
	case strings.Contains(m, "rigol"):
		return "rigol"
	case strings.Contains(m, "siglent"):
		return "siglent"
	case strings.Contains(m, "lecroy"):
		return "lecroy"
	}
	return m
}

func (id Identity) String() string {
	return fmt.Sprintf("%s %s (serial %s, firmware %s)", id.Manufacturer, id.Model, id.Serial, id.Firmware)
}
