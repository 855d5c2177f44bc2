package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const sessionCookie = "sg_order"

// SessionResolver 会话归属：判断当前请求方拥有哪个订单
type SessionResolver interface {
	OrderID(c *gin.Context) (int, bool)
}

// CookieSession 基于 HMAC 签名 cookie 的默认实现
// 渲染支付页时签发，status/confirmtx 靠它校验订单归属
type CookieSession struct {
	Secret string
}

// Issue 为订单签发会话 cookie
func (s *CookieSession) Issue(c *gin.Context, orderID int) {
	value := strconv.Itoa(orderID) + "." + s.sign(orderID)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, value, 7200, "/", "", false, true)
}

// OrderID 解析并校验会话 cookie，返回其绑定的订单 ID
func (s *CookieSession) OrderID(c *gin.Context) (int, bool) {
	raw, err := c.Cookie(sessionCookie)
	if err != nil {
		return 0, false
	}
	idPart, sig, found := strings.Cut(raw, ".")
	if !found {
		return 0, false
	}
	orderID, err := strconv.Atoi(idPart)
	if err != nil || orderID <= 0 {
		return 0, false
	}
	expected := s.sign(orderID)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return 0, false
	}
	return orderID, true
}

func (s *CookieSession) sign(orderID int) string {
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(strconv.Itoa(orderID)))
	return hex.EncodeToString(mac.Sum(nil))
}
