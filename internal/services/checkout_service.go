package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"StableGate/internal/db"
	"StableGate/internal/models"
	"StableGate/utils"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrConversion      = errors.New("usd conversion failed")
	ErrInvalidTxHash   = errors.New("invalid transaction hash format")
)

// CheckoutService 下单编排：创建（或复用）监控请求、轮询对账、提交交易哈希
type CheckoutService struct {
	db        *gorm.DB
	client    *PayzClient
	engine    *ReconcileEngine
	orders    OrderStore
	converter CurrencyConverter
	storeName string
	log       *utils.Logger
}

func NewCheckoutService(dbConn *gorm.DB, client *PayzClient, engine *ReconcileEngine,
	orders OrderStore, converter CurrencyConverter, storeName string, logger *utils.Logger) *CheckoutService {
	return &CheckoutService{
		db:        dbConn,
		client:    client,
		engine:    engine,
		orders:    orders,
		converter: converter,
		storeName: storeName,
		log:       logger,
	}
}

// EnabledNetworks 启用的网络列表（取远端配置缓存，无缓存时只开 TRC20）
func EnabledNetworks(settings *models.GatewaySettings) []string {
	if settings.CachedConfig != "" {
		var cfg models.RemoteConfig
		if err := json.Unmarshal([]byte(settings.CachedConfig), &cfg); err == nil {
			var networks []string
			for _, n := range cfg.Networks {
				if n.Network != "" {
					networks = append(networks, n.Network)
				}
			}
			if len(networks) > 0 {
				return networks
			}
		}
	}
	return []string{models.NetworkTRC20}
}

// DefaultToken 默认代币（取远端配置缓存，无缓存时 USDT）
func DefaultToken(settings *models.GatewaySettings) string {
	if settings.CachedConfig != "" {
		var cfg models.RemoteConfig
		if err := json.Unmarshal([]byte(settings.CachedConfig), &cfg); err == nil && cfg.DefaultToken != "" {
			return cfg.DefaultToken
		}
	}
	return models.TokenUSDT
}

// normalizeSelection 校验客户选择的网络/代币
// 不在允许列表的网络回落到列表第一项；非法代币回落 USDT；TRC20 强制 USDT
func normalizeSelection(settings *models.GatewaySettings, network, token string) (string, string) {
	enabled := EnabledNetworks(settings)

	valid := false
	for _, n := range enabled {
		if n == network {
			valid = true
			break
		}
	}
	if !valid {
		network = enabled[0]
	}

	if token != models.TokenUSDT && token != models.TokenUSDC {
		token = DefaultToken(settings)
	}
	if token != models.TokenUSDT && token != models.TokenUSDC {
		token = models.TokenUSDT
	}
	if network == models.NetworkTRC20 {
		token = models.TokenUSDT
	}
	return network, token
}

// CreateOrReuse 为订单创建监控请求；已有活跃记录则复用（重复点击"支付"天然幂等）
// 返回 (记录, 是否新建)
func (s *CheckoutService) CreateOrReuse(ctx context.Context, orderID int, network, token string) (*models.PaymentRecord, bool, error) {
	if active, err := db.GetActivePaymentByOrderID(s.db, orderID); err == nil {
		return active, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	order, err := s.orders.GetOrder(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrOrderNotFound
		}
		return nil, false, err
	}

	settings, err := db.GetSettings(s.db)
	if err != nil {
		return nil, false, err
	}

	network, token = normalizeSelection(settings, network, token)

	// 金额统一折算 USD，换不出正数直接硬失败，绝不按错误金额收款
	amount, err := s.converter.ToUSD(order.Total, order.CurrencyCode)
	if err != nil || amount.Sign() <= 0 {
		s.log.Error("order #%d: cannot convert %s %s to USD", orderID, order.Total.String(), order.CurrencyCode)
		return nil, false, ErrConversion
	}
	amount = amount.Round(2)

	expiresIn := settings.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	req := &models.CreatePaymentRequest{
		Amount:          amount,
		Network:         network,
		Token:           token,
		ExternalRef:     order.Email,
		ExternalOrderID: fmt.Sprintf("%s-%d", settings.RefPrefix, orderID),
		ExpiresIn:       expiresIn,
		Metadata: map[string]interface{}{
			"source":     "stablegate",
			"version":    "1.0.0",
			"store":      s.storeName,
			"order_id":   orderID,
			"customer":   order.FirstName + " " + order.LastName,
			"request_id": uuid.NewString(),
		},
	}
	if settings.StaticAddress != "" {
		req.Address = settings.StaticAddress
	}

	s.log.Debug("creating payment monitoring request for order #%d: %s %s on %s", orderID, amount.String(), token, network)

	desc, err := s.client.CreatePayment(ctx, req)
	if err != nil {
		return nil, false, err
	}

	recToken := desc.Token
	if recToken == "" {
		recToken = token
	}
	status := desc.Status
	if status == "" {
		status = models.StatusPending
	}

	rec := &models.PaymentRecord{
		OrderID:         orderID,
		PaymentID:       desc.ID,
		Address:         desc.Address,
		Amount:          desc.Amount,
		Network:         desc.Network,
		Token:           recToken,
		Status:          status,
		QRCode:          desc.QRCode,
		Notice:          desc.Notice,
		RequiresTxID:    desc.RequiresTxID,
		ConfirmEndpoint: desc.ConfirmEndpoint,
		ExpiresAt:       desc.ExpiresAt,
	}

	stored, created, err := db.InsertPayment(s.db, rec)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// 并发下单撞上了别人先插的活跃记录，复用对方的
		return stored, false, nil
	}

	pendingStatusID := settings.PendingStatusID
	if pendingStatusID == 0 {
		pendingStatusID = 1 // 默认：Pending
	}
	comment := fmt.Sprintf("Stablecoin payment created. Waiting for %s transfer on %s.", recToken, rec.Network)
	if err := s.orders.AppendHistory(orderID, pendingStatusID, comment, false); err != nil {
		return nil, false, err
	}

	s.log.Info("payment monitoring request %s created for order #%d", rec.PaymentID, orderID)
	return stored, true, nil
}

// PollStatus 轮询对账：远端可达时同步状态机，远端失败时退回本地已知状态
func (s *CheckoutService) PollStatus(ctx context.Context, orderID int) (string, *models.PaymentRecord, error) {
	rec, err := db.GetLatestPaymentByOrderID(s.db, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrPaymentNotFound
		}
		return "", nil, err
	}

	desc, err := s.client.GetPayment(ctx, rec.PaymentID)
	if err != nil {
		// 推送才是权威路径，轮询失败不打扰客户
		s.log.Debug("status poll api error for order #%d: %v", orderID, err)
		return rec.Status, rec, nil
	}

	status, err := s.engine.SyncFromRemote(rec, desc)
	if err != nil {
		return "", nil, err
	}
	return status, rec, nil
}

// SubmitTxHash 静态地址模式：校验并转发客户提交的交易哈希
// 本地状态不在这里变，后续由 webhook/轮询带回
func (s *CheckoutService) SubmitTxHash(ctx context.Context, orderID int, rawHash string) (string, error) {
	hash, ok := utils.NormalizeTxHash(rawHash)
	if !ok {
		return "", ErrInvalidTxHash
	}

	rec, err := db.GetLatestPaymentByOrderID(s.db, orderID)
	if err != nil || rec.ConfirmEndpoint == "" {
		return "", ErrPaymentNotFound
	}

	ack, err := s.client.ConfirmPayment(ctx, rec.ConfirmEndpoint, hash)
	if err != nil {
		return "", err
	}

	s.log.Info("tx hash submitted for order #%d: %s", orderID, hash)
	return ack.Message, nil
}

// NetworkLabel 网络展示名
func NetworkLabel(network string) string {
	switch network {
	case models.NetworkTRC20:
		return "TRC20 (Tron)"
	case models.NetworkBEP20:
		return "BEP20 (BSC)"
	case models.NetworkERC20:
		return "ERC20 (Ethereum)"
	case models.NetworkPolygon:
		return "Polygon"
	case models.NetworkArbitrum:
		return "Arbitrum"
	}
	return network
}

// ExplorerURL 对应网络的区块浏览器地址页
func ExplorerURL(network, address string) string {
	base := "https://tronscan.org/#/address/"
	switch network {
	case models.NetworkBEP20:
		base = "https://bscscan.com/address/"
	case models.NetworkERC20:
		base = "https://etherscan.io/address/"
	case models.NetworkPolygon:
		base = "https://polygonscan.com/address/"
	case models.NetworkArbitrum:
		base = "https://arbiscan.io/address/"
	}
	return base + address
}
