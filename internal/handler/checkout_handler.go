package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"StableGate/internal/services"
)

// ConfirmHandler 客户确认付款：创建（或复用）监控请求并返回付款指引
func (h *Handler) ConfirmHandler(c *gin.Context) {
	var req struct {
		OrderID int    `json:"order_id" form:"order_id" binding:"required"`
		Network string `json:"network" form:"network"`
		Token   string `json:"token" form:"token"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	// 已有会话时以会话里的订单为准，防止替别人下单
	orderID := req.OrderID
	if sessionOrder, ok := h.Session.OrderID(c); ok {
		orderID = sessionOrder
	}

	rec, created, err := h.Checkout.CreateOrReuse(c.Request.Context(), orderID, req.Network, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		case errors.Is(err, services.ErrConversion):
			c.JSON(http.StatusBadRequest, gin.H{"error": "USD exchange rate is not configured. Please contact the store administrator."})
		case errors.Is(err, services.ErrUpstream):
			// 订单未动，客户可换支付方式重试；内部细节不外露
			h.Log.Debug("create payment failed for order #%d: %v", orderID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment could not be initialized. Please choose another payment method."})
		default:
			h.Log.Error("create payment failed for order #%d: %v", orderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
		return
	}

	h.Session.Issue(c, orderID)

	secondsRemaining := 3600
	if rec.ExpiresAt != nil {
		secondsRemaining = int(time.Until(*rec.ExpiresAt).Seconds())
		if secondsRemaining < 0 {
			secondsRemaining = 0
		}
	}

	resp := gin.H{
		"order_id":          orderID,
		"payment_id":        rec.PaymentID,
		"address":           rec.Address,
		"amount":            rec.Amount,
		"network":           rec.Network,
		"network_label":     services.NetworkLabel(rec.Network),
		"token":             rec.Token,
		"status":            rec.Status,
		"qr_code":           rec.QRCode,
		"notice":            rec.Notice,
		"requires_txid":     rec.RequiresTxID,
		"seconds_remaining": secondsRemaining,
		"explorer_url":      services.ExplorerURL(rec.Network, rec.Address),
		"status_url":        "/payment/status?order_id=" + strconv.Itoa(orderID),
		"reused":            !created,
	}
	if rec.RequiresTxID {
		resp["confirmtx_url"] = "/payment/confirmtx"
	}
	if rec.ExpiresAt != nil {
		resp["expires_at"] = rec.ExpiresAt
	}

	c.JSON(http.StatusOK, resp)
}
