package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// 重放窗口：通知时间戳与本地时间偏差超过 ±300 秒一律拒绝
const signatureMaxSkew = 300 * time.Second

// parseWebhookTimestamp 解析时间戳头：优先 unix 秒，其次 RFC3339
func parseWebhookTimestamp(header string) (time.Time, bool) {
	if sec, err := strconv.ParseInt(header, 10, 64); err == nil {
		return time.Unix(sec, 0), true
	}
	if t, err := time.Parse(time.RFC3339, header); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// FreshTimestamp 时间戳头是否可解析且在重放窗口内（未来时间同样拒绝）
func FreshTimestamp(header string, now time.Time) bool {
	ts, ok := parseWebhookTimestamp(header)
	if !ok {
		return false
	}
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	return skew <= signatureMaxSkew
}

// VerifyWebhookSignature 校验通知的真实性与新鲜度
// 签名覆盖 timestamp + "." + body，时间戳被绑定进签名内容，
// 拿旧报文换新时间戳重放时签名必然失效
func VerifyWebhookSignature(rawBody []byte, signature, timestamp, secret string, now time.Time) bool {
	if len(rawBody) == 0 || signature == "" || timestamp == "" || secret == "" {
		return false
	}

	if !FreshTimestamp(timestamp, now) {
		return false
	}

	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)

	// 恒定时间比较，签名材料不走短路相等
	return hmac.Equal(mac.Sum(nil), given)
}
