package goscpi

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ParseFloat 解析 SCPI 数值应答。接受符号、定点和科学计数法以及末尾的单位
// （如 "+5.000V"、"1.2E-3 A"），单位不参与换算。非数值文本返回 ErrMalformedReply。
func ParseFloat(s string) (float64, error) {
	s = trimReply(s)
	switch strings.ToUpper(s) {
	case "NAN":
		return math.NaN(), nil
	case "INF", "+INF":
		return math.Inf(1), nil
	case "-INF", "NINF":
		return math.Inf(-1), nil
	}

	n := numericPrefix(s)
	if n == 0 {
		return 0, malformed(s, "number")
	}
	if !isUnit(strings.TrimSpace(s[n:])) {
		return 0, malformed(s, "number")
	}
	v, err := strconv.ParseFloat(s[:n], 64)
	if err != nil {
		return 0, malformed(s, "number")
	}
	return v, nil
}

// ParseFloats 解析逗号分隔的数值列表。
func ParseFloats(s string) ([]float64, error) {
	s = trimReply(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := ParseFloat(f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseInt 解析整数应答；"+1.00000E+00" 这类整数值的浮点形式也可接受。
func ParseInt(s string) (int64, error) {
	s = trimReply(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := ParseFloat(s)
	if err != nil || f != math.Trunc(f) || f < -(1<<63) || f >= 1<<63 {
		return 0, malformed(s, "integer")
	}
	return int64(f), nil
}

// ParseBool 解析 "1"/"0"/"ON"/"OFF" 形式的布尔应答。
func ParseBool(s string) (bool, error) {
	s = trimReply(s)
	switch strings.ToUpper(s) {
	case "1", "+1", "ON", "TRUE":
		return true, nil
	case "0", "+0", "OFF", "FALSE":
		return false, nil
	}
	return false, malformed(s, "boolean")
}

// ParseInstrumentError 解析错误队列应答 `<code>,"<message>"`。
func ParseInstrumentError(s string) (InstrumentError, error) {
	s = strings.TrimSpace(s)
	codeText, msg, _ := strings.Cut(s, ",")
	code, err := strconv.Atoi(strings.TrimSpace(codeText))
	if err != nil {
		return InstrumentError{}, malformed(s, `<code>,"<message>"`)
	}
	return InstrumentError{Code: code, Message: trimReply(msg)}, nil
}

// DecodeText 将仪器文本转换为 UTF-8。不是合法 UTF-8 的数据按 ISO-8859-1 解码（µ、°、Ω 等）。
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// trimReply 去掉首尾空白和成对引号。
func trimReply(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

// numericPrefix 返回 s 开头数值部分的长度；指数标记后没有数字时返回 0。
func numericPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k == j {
			// 没有指数数字的 "5.0E" 不是数值
			return 0
		}
		i = k
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// isUnit 报告 s 是否可以作为单位后缀（字母、%、°、µ、Ω、/）。
func isUnit(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '%' && r != '°' && r != '/' {
			return false
		}
	}
	return true
}
