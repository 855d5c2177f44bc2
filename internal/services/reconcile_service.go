package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"StableGate/internal/db"
	"StableGate/internal/models"
	"StableGate/utils"
)

// OrderStore 宿主订单子系统：读取订单 + 追加历史（历史同时推进订单状态）
type OrderStore interface {
	GetOrder(orderID int) (*models.Order, error)
	AppendHistory(orderID, statusID int, comment string, notify bool) error
}

// CurrencyConverter 宿主汇率子系统：店铺货币折算 USD
type CurrencyConverter interface {
	ToUSD(amount decimal.Decimal, fromCode string) (decimal.Decimal, error)
}

// GormOrderStore OrderStore 的默认实现（宿主订单表在同一个库里）
type GormOrderStore struct {
	DB *gorm.DB
}

func (s *GormOrderStore) GetOrder(orderID int) (*models.Order, error) {
	return db.GetOrder(s.DB, orderID)
}

func (s *GormOrderStore) AppendHistory(orderID, statusID int, comment string, notify bool) error {
	return db.AppendOrderHistory(s.DB, orderID, statusID, comment, notify)
}

// GormCurrencyConverter CurrencyConverter 的默认实现（汇率表）
type GormCurrencyConverter struct {
	DB *gorm.DB
}

func (c *GormCurrencyConverter) ToUSD(amount decimal.Decimal, fromCode string) (decimal.Decimal, error) {
	if fromCode == "" || fromCode == "USD" {
		return amount, nil
	}
	rate, err := db.GetCurrencyRate(c.DB, fromCode)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate.ValueToUSD), nil
}

// ApplyResult 事件应用结果
type ApplyResult struct {
	Handled bool                  // 事件被识别并应用
	Note    string                // 未跟踪时给远端的说明（仍回 200，让对方停止重试）
	Record  *models.PaymentRecord // 事件命中的本地记录
}

// ReconcileEngine 对账状态机
// 推送（webhook）和拉取（轮询）是同一状态机的两条投递路径：
// 终态不可再迁移，重复/乱序投递只会被幂等吸收
type ReconcileEngine struct {
	db     *gorm.DB
	orders OrderStore
	log    *utils.Logger
}

func NewReconcileEngine(dbConn *gorm.DB, orders OrderStore, logger *utils.Logger) *ReconcileEngine {
	return &ReconcileEngine{db: dbConn, orders: orders, log: logger}
}

// ApplyEvent 应用一条已通过签名校验的事件
// 定位顺序：external_order_id 优先，payment_id 兜底；
// 找不到本地记录按"未跟踪"处理，不算错误
func (e *ReconcileEngine) ApplyEvent(payload *models.WebhookPayload) (*ApplyResult, error) {
	settings, err := db.GetSettings(e.db)
	if err != nil {
		return nil, err
	}

	rec := e.locate(settings.RefPrefix, payload)
	if rec == nil {
		e.log.Debug("webhook: no matching record for payment %s / ref %s", payload.PaymentID, payload.ExternalOrderID)
		return &ApplyResult{Note: "Payment not tracked by this store"}, nil
	}

	order, err := e.orders.GetOrder(rec.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.log.Debug("webhook: order #%d not found in store", rec.OrderID)
			return &ApplyResult{Note: "Order not found in store", Record: rec}, nil
		}
		return nil, err
	}

	// 终态幂等：重复投递只确认，不再产生任何变更
	if models.IsTerminalStatus(rec.Status) {
		e.log.Debug("webhook: record for order #%d already %s, event %s ignored", rec.OrderID, rec.Status, payload.Event)
		return &ApplyResult{Handled: true, Record: rec}, nil
	}

	tokenName := payload.Token
	if tokenName == "" {
		tokenName = rec.Token
	}
	if tokenName == "" {
		tokenName = models.TokenUSDT
	}

	switch payload.Event {
	case models.EventCompleted, models.EventOverpaid:
		statusID := settings.CompletedStatusID
		if statusID == 0 {
			statusID = 5 // 默认：Complete
		}
		comment := fmt.Sprintf("Transaction detected and confirmed on blockchain. Amount: %s %s",
			payload.PaidAmount.String(), tokenName)
		if payload.TxHash != "" {
			comment += " | TX: " + payload.TxHash
		}
		if payload.Event == models.EventOverpaid {
			comment += fmt.Sprintf(" (Overpaid - expected: %s)", payload.ExpectedAmount.String())
		}
		if err := e.orders.AppendHistory(rec.OrderID, statusID, comment, true); err != nil {
			return nil, err
		}
		if err := db.UpdatePaymentStatus(e.db, rec.OrderID, models.StatusPaid, payload.TxHash); err != nil {
			return nil, err
		}
		e.log.Info("order #%d marked as paid, tx: %s", rec.OrderID, payload.TxHash)

	case models.EventExpired:
		statusID := settings.ExpiredStatusID
		if statusID == 0 {
			statusID = 14 // 默认：Expired
		}
		if err := e.orders.AppendHistory(rec.OrderID, statusID, "Payment monitoring expired without receiving funds.", false); err != nil {
			return nil, err
		}
		if err := db.UpdatePaymentStatus(e.db, rec.OrderID, models.StatusExpired, ""); err != nil {
			return nil, err
		}
		e.log.Info("order #%d marked as expired", rec.OrderID)

	case models.EventPartial:
		comment := fmt.Sprintf("Partial transaction detected. Received: %s %s (Expected: %s)",
			payload.PaidAmount.String(), tokenName, payload.ExpectedAmount.String())
		if payload.TxHash != "" {
			comment += " | TX: " + payload.TxHash
		}
		// 订单状态保持不变，只追加历史
		if err := e.orders.AppendHistory(rec.OrderID, order.StatusID, comment, false); err != nil {
			return nil, err
		}
		if err := db.UpdatePaymentStatus(e.db, rec.OrderID, models.StatusPartial, payload.TxHash); err != nil {
			return nil, err
		}
		e.log.Info("order #%d partial payment: %s %s", rec.OrderID, payload.PaidAmount.String(), tokenName)

	case models.EventCancelled:
		statusID := settings.ExpiredStatusID
		if statusID == 0 {
			statusID = 7 // 默认：Canceled
		}
		if err := e.orders.AppendHistory(rec.OrderID, statusID, "Payment was cancelled by the merchant.", false); err != nil {
			return nil, err
		}
		if err := db.UpdatePaymentStatus(e.db, rec.OrderID, models.StatusCancelled, ""); err != nil {
			return nil, err
		}
		e.log.Info("order #%d marked as cancelled", rec.OrderID)

	default:
		// 未识别事件：记录日志后照常确认，避免远端无限重试
		e.log.Warn("webhook: unhandled event type: %s", payload.Event)
		return &ApplyResult{Record: rec}, nil
	}

	return &ApplyResult{Handled: true, Record: rec}, nil
}

// locate 定位事件对应的本地记录
func (e *ReconcileEngine) locate(prefix string, payload *models.WebhookPayload) *models.PaymentRecord {
	if payload.ExternalOrderID != "" {
		if rec, err := db.GetPaymentByExternalOrderID(e.db, prefix, payload.ExternalOrderID); err == nil {
			return rec
		}
	}
	if payload.PaymentID != "" {
		if rec, err := db.GetPaymentByPaymentID(e.db, payload.PaymentID); err == nil {
			return rec
		}
	}
	return nil
}

// SyncFromRemote 轮询对账：远端状态与本地不一致时，按对应事件走同一状态机
// 返回对外展示的有效状态（远端视角）
func (e *ReconcileEngine) SyncFromRemote(rec *models.PaymentRecord, desc *models.PaymentDescriptor) (string, error) {
	remote := desc.Status
	if remote == "" || remote == rec.Status {
		return rec.Status, nil
	}

	// 终态单调：本地已终态时忽略远端的任何说法
	if models.IsTerminalStatus(rec.Status) {
		return rec.Status, nil
	}

	switch remote {
	case models.StatusConfirming:
		if err := db.UpdatePaymentStatus(e.db, rec.OrderID, models.StatusConfirming, desc.TxHash); err != nil {
			return rec.Status, err
		}
		return models.StatusConfirming, nil

	case models.StatusPending:
		// 不回退
		return rec.Status, nil
	}

	event := ""
	switch remote {
	case models.StatusPaid, "completed":
		event = models.EventCompleted
	case "overpaid":
		event = models.EventOverpaid
	case models.StatusExpired:
		event = models.EventExpired
	case models.StatusPartial:
		event = models.EventPartial
	case models.StatusCancelled:
		event = models.EventCancelled
	default:
		e.log.Warn("poll: unknown remote status %q for payment %s", remote, rec.PaymentID)
		return rec.Status, nil
	}

	synthetic := &models.WebhookPayload{
		Event:          event,
		PaymentID:      rec.PaymentID,
		TxHash:         desc.TxHash,
		PaidAmount:     desc.Amount,
		ExpectedAmount: rec.Amount,
		Token:          desc.Token,
	}
	if _, err := e.ApplyEvent(synthetic); err != nil {
		return rec.Status, err
	}
	return remote, nil
}
