package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"StableGate/internal/models"
	"StableGate/internal/services"
)

// CallbackHandler 接收远端监控服务的事件推送
// 只有签名/时间戳/报文结构问题才回 4xx；
// 未跟踪的支付也回 200，让远端停止重试投递
func (h *Handler) CallbackHandler(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty request body"})
		return
	}

	signature := c.GetHeader("X-Signature")
	if signature == "" {
		h.Log.Debug("webhook rejected: missing signature header")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing signature"})
		return
	}

	timestamp := c.GetHeader("X-Timestamp")
	if timestamp == "" {
		h.Log.Debug("webhook rejected: missing timestamp header")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing timestamp"})
		return
	}

	now := time.Now()
	if !services.FreshTimestamp(timestamp, now) {
		h.Log.Debug("webhook rejected: timestamp expired")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Timestamp validation failed"})
		return
	}

	if !services.VerifyWebhookSignature(raw, signature, timestamp, h.WebhookSecret, now) {
		h.Log.Debug("webhook rejected: invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Event == "" {
		h.Log.Debug("webhook rejected: invalid payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	h.Log.Debug("webhook received: %s for payment %s", payload.Event, payload.PaymentID)

	result, err := h.Engine.ApplyEvent(&payload)
	if err != nil {
		h.Log.Error("webhook apply failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	if result.Note != "" {
		c.JSON(http.StatusOK, gin.H{"ok": true, "note": result.Note})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
