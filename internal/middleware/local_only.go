package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LocalOnly 管理端接口只允许本机访问（127.0.0.1 或 ::1）
// 网关设置通过这些接口维护，不暴露给店面流量
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden: local access only"})
			c.Abort()
			return
		}
		c.Next()
	}
}
