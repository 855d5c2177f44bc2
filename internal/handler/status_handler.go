package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"StableGate/internal/models"
	"StableGate/internal/services"
)

// StatusHandler 支付页轮询接口
// 每次轮询都会向远端对一次账；远端不可达时退回本地已知状态
func (h *Handler) StatusHandler(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Query("order_id"))
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing order_id"})
		return
	}

	// 会话必须拥有该订单
	sessionOrder, ok := h.Session.OrderID(c)
	if !ok || sessionOrder != orderID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
		return
	}

	status, rec, err := h.Checkout.PollStatus(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		h.Log.Error("status poll failed for order #%d: %v", orderID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	resp := gin.H{
		"status":     status,
		"payment_id": rec.PaymentID,
		"order_id":   orderID,
	}
	if status == models.StatusPaid || status == "overpaid" {
		resp["redirect"] = h.SuccessURL
	}

	c.JSON(http.StatusOK, resp)
}

// ConfirmTxHandler 静态地址模式：客户提交交易哈希
// 哈希格式不合法时直接拒绝，不发远端请求；本地状态不在这里变
func (h *Handler) ConfirmTxHandler(c *gin.Context) {
	var req struct {
		OrderID int    `json:"order_id" form:"order_id" binding:"required"`
		TxHash  string `json:"tx_hash" form:"tx_hash" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Transaction hash is required"})
		return
	}

	sessionOrder, ok := h.Session.OrderID(c)
	if !ok || sessionOrder != req.OrderID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
		return
	}

	message, err := h.Checkout.SubmitTxHash(c.Request.Context(), req.OrderID, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidTxHash):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction hash format"})
		case errors.Is(err, services.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		case errors.Is(err, services.ErrUpstream):
			h.Log.Debug("confirm tx failed for order #%d: %v", req.OrderID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Could not submit transaction hash. Please try again."})
		default:
			h.Log.Error("confirm tx failed for order #%d: %v", req.OrderID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
		return
	}

	if message == "" {
		message = "Transaction hash submitted. Verification in progress."
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}
