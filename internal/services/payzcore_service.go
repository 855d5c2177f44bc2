package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"StableGate/internal/models"
	"StableGate/utils"
)

// ErrUpstream 远端监控服务调用失败（超时、非 2xx、响应格式错误等）
// 调用方自行决定降级方式，这里不做内部重试
var ErrUpstream = errors.New("payment monitor api error")

const (
	clientUserAgent    = "StableGate/1.0.0"
	clientTotalTimeout = 30 * time.Second
	clientDialTimeout  = 10 * time.Second
)

// PayzClient 远端监控服务 HTTP 客户端
type PayzClient struct {
	http *resty.Client
	log  *utils.Logger
}

// NewPayzClient 构造客户端，API key 与地址在构造时注入
func NewPayzClient(apiURL, apiKey string, logger *utils.Logger) *PayzClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(clientTotalTimeout).
		SetTransport(&http.Transport{
			DialContext:         (&net.Dialer{Timeout: clientDialTimeout}).DialContext,
			TLSHandshakeTimeout: clientDialTimeout,
		}).
		SetHeader("x-api-key", apiKey).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", clientUserAgent)

	return &PayzClient{http: c, log: logger}
}

// CreatePayment 创建支付监控请求，地址由远端分配（或回显静态地址）
func (p *PayzClient) CreatePayment(ctx context.Context, req *models.CreatePaymentRequest) (*models.PaymentDescriptor, error) {
	body, err := p.do(ctx, http.MethodPost, "/v1/payments", req)
	if err != nil {
		return nil, err
	}
	return p.decodePayment(body)
}

// GetPayment 查询远端支付状态（轮询用）
func (p *PayzClient) GetPayment(ctx context.Context, paymentID string) (*models.PaymentDescriptor, error) {
	id := sanitizePaymentID(paymentID)
	if id == "" {
		return nil, fmt.Errorf("%w: empty payment id", ErrUpstream)
	}
	body, err := p.do(ctx, http.MethodGet, "/v1/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	return p.decodePayment(body)
}

// ConfirmPayment 静态地址模式：把客户提交的交易哈希转发到远端确认端点
func (p *PayzClient) ConfirmPayment(ctx context.Context, endpoint, txHash string) (*models.AckEnvelope, error) {
	body, err := p.do(ctx, http.MethodPost, endpoint, map[string]string{"tx_hash": txHash})
	if err != nil {
		return nil, err
	}
	var ack models.AckEnvelope
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrUpstream, err)
	}
	if ack.Success != nil && !*ack.Success {
		return nil, upstreamFailure(ack.Error)
	}
	return &ack, nil
}

// FetchConfig 拉取远端网络配置（管理端保存设置时调用并缓存）
func (p *PayzClient) FetchConfig(ctx context.Context) (*models.RemoteConfig, error) {
	body, err := p.do(ctx, http.MethodGet, "/v1/config", nil)
	if err != nil {
		return nil, err
	}
	var cfg models.RemoteConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrUpstream, err)
	}
	return &cfg, nil
}

// do 发请求并统一归类失败：传输错误、非 2xx、success=false 都折叠成 ErrUpstream
func (p *PayzClient) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	req := p.http.R().SetContext(ctx)
	if payload != nil {
		req.SetBody(payload)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		p.log.Debug("monitor api connection error: %v", err)
		return nil, fmt.Errorf("%w: connection error: %v", ErrUpstream, err)
	}

	body := resp.Body()

	if resp.StatusCode() >= 400 {
		msg := "unknown error"
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		p.log.Debug("monitor api http %d: %s", resp.StatusCode(), msg)
		return nil, fmt.Errorf("%w: http %d: %s", ErrUpstream, resp.StatusCode(), msg)
	}

	return body, nil
}

func (p *PayzClient) decodePayment(body []byte) (*models.PaymentDescriptor, error) {
	var env models.PaymentEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrUpstream, err)
	}
	if env.Success != nil && !*env.Success {
		return nil, upstreamFailure(env.Error)
	}
	if env.Payment == nil {
		return nil, fmt.Errorf("%w: missing payment data", ErrUpstream)
	}
	return env.Payment, nil
}

func upstreamFailure(msg string) error {
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Errorf("%w: %s", ErrUpstream, msg)
}

// sanitizePaymentID 支付 ID 只保留十六进制字符与短横线
func sanitizePaymentID(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F', c == '-':
			b.WriteByte(c)
		}
	}
	return b.String()
}
