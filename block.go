package goscpi

import (
	"fmt"
	"strconv"
)

// DecodeBlock 解析 IEEE 488.2 定长二进制块 `#<n><len><bytes>`，返回数据和块之后剩余的字节。
// 声明长度超过实际字节数时返回 ErrTruncatedBlock。
// 不定长形式 `#0` 的数据延伸到 p 末尾（去掉末尾的换行）。
func DecodeBlock(p []byte) (data, rest []byte, err error) {
	if len(p) < 2 || p[0] != '#' {
		return nil, nil, fmt.Errorf("%w: block must start with '#'", ErrProtocolDecode)
	}
	n, ok := blockDigits(p[1])
	if !ok {
		return nil, nil, fmt.Errorf("%w: bad block digit count %q", ErrProtocolDecode, p[1])
	}
	if n == 0 {
		data = p[2:]
		if l := len(data); l > 0 && data[l-1] == '\n' {
			data = data[:l-1]
		}
		return data, nil, nil
	}
	if len(p) < 2+n {
		return nil, nil, fmt.Errorf("%w: header needs %d length digits, got %d", ErrTruncatedBlock, n, len(p)-2)
	}
	length, err := blockLength(p[2 : 2+n])
	if err != nil {
		return nil, nil, err
	}
	body := p[2+n:]
	if len(body) < length {
		return nil, nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrTruncatedBlock, length, len(body))
	}
	return body[:length], body[length:], nil
}

// EncodeBlock 将 data 编码为定长二进制块。
func EncodeBlock(data []byte) []byte {
	length := strconv.Itoa(len(data))
	out := make([]byte, 0, 2+len(length)+len(data))
	out = append(out, '#', byte('0'+len(length)))
	out = append(out, length...)
	return append(out, data...)
}

func blockDigits(c byte) (int, bool) {
	if c < '0' || c > '9' {
		return 0, false
	}
	return int(c - '0'), true
}

func blockLength(digits []byte) (int, error) {
	length, err := strconv.Atoi(string(digits))
	if err != nil || length < 0 {
		return 0, fmt.Errorf("%w: bad block length %q", ErrProtocolDecode, digits)
	}
	return length, nil
}
