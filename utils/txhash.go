package utils

import "strings"

// NormalizeTxHash 规范化客户提交的交易哈希：去掉可选的 0x 前缀
// 合法哈希为 10~128 位十六进制，不合法返回 false
func NormalizeTxHash(raw string) (string, bool) {
	h := strings.TrimSpace(raw)
	if len(h) >= 2 && (h[:2] == "0x" || h[:2] == "0X") {
		h = h[2:]
	}
	if len(h) < 10 || len(h) > 128 {
		return "", false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return "", false
		}
	}
	return h, true
}
