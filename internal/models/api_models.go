package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WebhookPayload 远端监控服务推送的事件通知
// 除 event 外均为可选字段，按事件类型出现
type WebhookPayload struct {
	Event           string          `json:"event" binding:"required"`
	PaymentID       string          `json:"payment_id"`
	ExternalOrderID string          `json:"external_order_id"`
	TxHash          string          `json:"tx_hash"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount"`
	Token           string          `json:"token"`
	Status          string          `json:"status"`
}

// 事件类型
const (
	EventCompleted = "payment.completed"
	EventOverpaid  = "payment.overpaid"
	EventExpired   = "payment.expired"
	EventPartial   = "payment.partial"
	EventCancelled = "payment.cancelled"
)

// PaymentDescriptor 远端返回的支付描述
type PaymentDescriptor struct {
	ID              string          `json:"id"`
	Address         string          `json:"address"`
	Amount          decimal.Decimal `json:"amount"`
	Network         string          `json:"network"`
	Token           string          `json:"token"`
	Status          string          `json:"status"`
	QRCode          string          `json:"qr_code"`
	Notice          string          `json:"notice"`
	RequiresTxID    bool            `json:"requires_txid"`
	ConfirmEndpoint string          `json:"confirm_endpoint"`
	ExpiresAt       *time.Time      `json:"expires_at"`
	TxHash          string          `json:"tx_hash"`
}

// PaymentEnvelope POST/GET /v1/payments 的响应信封
// success=false 或带 error 字段时视为远端失败
type PaymentEnvelope struct {
	Success *bool              `json:"success"`
	Error   string             `json:"error"`
	Payment *PaymentDescriptor `json:"payment"`
}

// CreatePaymentRequest POST /v1/payments 请求体
type CreatePaymentRequest struct {
	Amount          decimal.Decimal        `json:"amount"`
	Network         string                 `json:"network"`
	Token           string                 `json:"token"`
	ExternalRef     string                 `json:"external_ref,omitempty"`
	ExternalOrderID string                 `json:"external_order_id,omitempty"`
	ExpiresIn       int                    `json:"expires_in,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Address         string                 `json:"address,omitempty"` // 静态地址模式
}

// AckEnvelope 确认端点等简单响应
type AckEnvelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NetworkConfig GET /v1/config 返回的单个网络配置
type NetworkConfig struct {
	Network string `json:"network"`
	Token   string `json:"token"`
}

// RemoteConfig GET /v1/config 响应（管理端保存设置时拉取并缓存）
type RemoteConfig struct {
	Networks     []NetworkConfig `json:"networks"`
	DefaultToken string          `json:"default_token"`
}
