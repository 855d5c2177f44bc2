package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 支付记录状态
const (
	StatusPending    = "pending"    // 等待转账
	StatusConfirming = "confirming" // 链上已检测到，等待确认
	StatusPartial    = "partial"    // 部分到账（可继续补款）
	StatusPaid       = "paid"       // 已完成（终态）
	StatusExpired    = "expired"    // 已过期（终态）
	StatusCancelled  = "cancelled"  // 已取消（终态）
)

// 支持的网络
const (
	NetworkTRC20    = "TRC20"
	NetworkBEP20    = "BEP20"
	NetworkERC20    = "ERC20"
	NetworkPolygon  = "POLYGON"
	NetworkArbitrum = "ARBITRUM"
)

// 支持的代币
const (
	TokenUSDT = "USDT"
	TokenUSDC = "USDC"
)

// IsTerminalStatus 终态判断：终态记录不再接受任何状态迁移
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusPaid, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// IsActiveStatus 活跃判断：每个订单最多允许一条活跃记录
func IsActiveStatus(status string) bool {
	switch status {
	case StatusPending, StatusConfirming, StatusPartial:
		return true
	}
	return false
}

// PaymentRecord 支付监控记录表（一次监控请求一条，允许同订单多条历史记录）
type PaymentRecord struct {
	gorm.Model
	OrderID         int             `gorm:"index"`                // 店铺订单 ID
	PaymentID       string          `gorm:"uniqueIndex;size:64"`  // 远端监控服务分配的支付 ID
	Address         string          `gorm:"size:128"`             // 收款地址
	Amount          decimal.Decimal `gorm:"type:decimal(18,2)"`   // 应付金额（USD）
	Network         string          `gorm:"size:10"`              // TRC20/BEP20/ERC20/POLYGON/ARBITRUM
	Token           string          `gorm:"size:10"`              // USDT/USDC（TRC20 仅 USDT）
	Status          string          `gorm:"size:20;default:'pending'"`
	TxHash          string          `gorm:"size:130"` // 链上交易哈希（检测到转账后写入）
	QRCode          string          `gorm:"type:text"`
	Notice          string          `gorm:"size:255"`
	RequiresTxID    bool            // 静态地址模式：需要客户自行提交交易哈希
	ConfirmEndpoint string          `gorm:"size:255"` // 手动确认端点（仅静态地址模式下返回）
	ExpiresAt       *time.Time
}

// GatewaySettings 网关设置（单行表，管理端维护）
type GatewaySettings struct {
	ID                uint   `gorm:"primaryKey"`
	PendingStatusID   int    `gorm:"default:1"`  // 下单后的订单状态
	CompletedStatusID int    `gorm:"default:5"`  // 支付完成的订单状态
	ExpiredStatusID   int    `gorm:"default:14"` // 过期的订单状态
	ExpiresIn         int    `gorm:"default:3600"`
	StaticAddress     string `gorm:"size:128"` // 可选：静态收款地址
	RefPrefix         string `gorm:"size:16;default:'oc'"`
	Debug             bool
	CachedConfig      string `gorm:"type:text"` // 从远端 /v1/config 缓存的网络配置（JSON）
	CachedAt          *time.Time
}

// Order 店铺订单（宿主侧，仅本服务关心的字段）
type Order struct {
	ID           int             `gorm:"primaryKey"`
	Total        decimal.Decimal `gorm:"type:decimal(18,4)"`
	CurrencyCode string          `gorm:"size:3"`
	Email        string          `gorm:"size:96"`
	FirstName    string          `gorm:"size:32"`
	LastName     string          `gorm:"size:32"`
	StatusID     int
}

// OrderHistory 订单历史（只追加）
type OrderHistory struct {
	gorm.Model
	OrderID  int `gorm:"index"`
	StatusID int
	Comment  string `gorm:"type:text"`
	Notify   bool
}

// CurrencyRate 汇率表：1 单位货币折合多少 USD
type CurrencyRate struct {
	Code       string          `gorm:"primaryKey;size:3"`
	ValueToUSD decimal.Decimal `gorm:"type:decimal(18,8)"`
}
