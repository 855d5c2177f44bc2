package db

import (
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"StableGate/internal/models"
)

var DB *gorm.DB // 在 main 中赋值

// ErrBadExternalRef 外部订单号格式不符合 "{prefix}-{orderId}"
var ErrBadExternalRef = errors.New("bad external order reference")

var activeStatuses = []string{models.StatusPending, models.StatusConfirming, models.StatusPartial}
var terminalStatuses = []string{models.StatusPaid, models.StatusExpired, models.StatusCancelled}

// InsertPayment 插入支付监控记录
// 同一订单同时只允许一条活跃记录：在事务内对活跃记录加行锁复查，
// 已存在则直接复用，避免两次并发下单各插一条
func InsertPayment(db *gorm.DB, rec *models.PaymentRecord) (*models.PaymentRecord, bool, error) {
	var existing models.PaymentRecord
	created := false

	err := db.Transaction(func(tx *gorm.DB) error {
		probe := tx
		if tx.Dialector.Name() == "mysql" {
			// MySQL 下对复查加行锁；SQLite（测试库）靠单写事务天然互斥
			probe = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := probe.
			Where("order_id = ? AND status IN ?", rec.OrderID, activeStatuses).
			Order("id DESC").
			First(&existing).Error
		if err == nil {
			return nil // 已有活跃记录，复用
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		return rec, true, nil
	}
	return &existing, false, nil
}

// GetActivePaymentByOrderID 查询订单的活跃记录（多条时取最新）
func GetActivePaymentByOrderID(db *gorm.DB, orderID int) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := db.Where("order_id = ? AND status IN ?", orderID, activeStatuses).
		Order("id DESC").
		First(&rec).Error
	return &rec, err
}

// GetLatestPaymentByOrderID 查询订单最新一条记录（不限状态）
func GetLatestPaymentByOrderID(db *gorm.DB, orderID int) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := db.Where("order_id = ?", orderID).Order("id DESC").First(&rec).Error
	return &rec, err
}

// GetPaymentByPaymentID 按远端支付 ID 查询
func GetPaymentByPaymentID(db *gorm.DB, paymentID string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := db.Where("payment_id = ?", paymentID).First(&rec).Error
	return &rec, err
}

// ParseExternalOrderID 解析 "{prefix}-{orderId}" 形式的外部订单号
func ParseExternalOrderID(prefix, ref string) (int, error) {
	raw, ok := strings.CutPrefix(ref, prefix+"-")
	if !ok {
		return 0, ErrBadExternalRef
	}
	orderID, err := strconv.Atoi(raw)
	if err != nil || orderID <= 0 {
		return 0, ErrBadExternalRef
	}
	return orderID, nil
}

// GetPaymentByExternalOrderID 按外部订单号查询（先解析回本地订单 ID）
func GetPaymentByExternalOrderID(db *gorm.DB, prefix, ref string) (*models.PaymentRecord, error) {
	orderID, err := ParseExternalOrderID(prefix, ref)
	if err != nil {
		return nil, err
	}
	return GetLatestPaymentByOrderID(db, orderID)
}

// UpdatePaymentStatus 更新订单非终态记录的状态（txHash 非空时一并写入）
// WHERE 排除终态，终态记录不会被任何后到事件改写
func UpdatePaymentStatus(db *gorm.DB, orderID int, status, txHash string) error {
	updates := map[string]interface{}{"status": status}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}
	return db.Model(&models.PaymentRecord{}).
		Where("order_id = ? AND status NOT IN ?", orderID, terminalStatuses).
		Updates(updates).Error
}

// GetSettings 读取网关设置（单行表，不存在则建默认行）
func GetSettings(db *gorm.DB) (*models.GatewaySettings, error) {
	var s models.GatewaySettings
	if err := db.First(&s).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		s = models.GatewaySettings{
			PendingStatusID:   1,
			CompletedStatusID: 5,
			ExpiredStatusID:   14,
			ExpiresIn:         3600,
			RefPrefix:         "oc",
		}
		if err := db.Create(&s).Error; err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// SaveSettings 保存网关设置
func SaveSettings(db *gorm.DB, s *models.GatewaySettings) error {
	return db.Save(s).Error
}

// GetOrder 查询店铺订单
func GetOrder(db *gorm.DB, orderID int) (*models.Order, error) {
	var o models.Order
	err := db.Where("id = ?", orderID).First(&o).Error
	return &o, err
}

// AppendOrderHistory 追加订单历史并同步订单状态
func AppendOrderHistory(db *gorm.DB, orderID, statusID int, comment string, notify bool) error {
	return db.Transaction(func(tx *gorm.DB) error {
		h := models.OrderHistory{
			OrderID:  orderID,
			StatusID: statusID,
			Comment:  comment,
			Notify:   notify,
		}
		if err := tx.Create(&h).Error; err != nil {
			return err
		}
		return tx.Model(&models.Order{}).Where("id = ?", orderID).
			Update("status_id", statusID).Error
	})
}

// GetCurrencyRate 查询汇率（1 单位该货币折合 USD）
func GetCurrencyRate(db *gorm.DB, code string) (*models.CurrencyRate, error) {
	var r models.CurrencyRate
	err := db.Where("code = ?", code).First(&r).Error
	return &r, err
}
