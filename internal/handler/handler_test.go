package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"StableGate/internal/middleware"
	"StableGate/internal/models"
	"StableGate/internal/services"
	"StableGate/utils"
)

const (
	testWebhookSecret = "whsec_test"
	testSessionSecret = "sess_secret"
	testSuccessURL    = "https://shop.example.com/checkout/success"
)

type testApp struct {
	router *gin.Engine
	db     *gorm.DB
}

func newTestApp(t *testing.T, remote http.HandlerFunc) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbConn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := dbConn.AutoMigrate(
		&models.PaymentRecord{},
		&models.GatewaySettings{},
		&models.Order{},
		&models.OrderHistory{},
		&models.CurrencyRate{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	srv := httptest.NewServer(remote)
	t.Cleanup(srv.Close)

	client := services.NewPayzClient(srv.URL, "sk_test_key", utils.DefaultLogger)
	orders := &services.GormOrderStore{DB: dbConn}
	engine := services.NewReconcileEngine(dbConn, orders, utils.DefaultLogger)
	checkout := services.NewCheckoutService(dbConn, client, engine, orders,
		&services.GormCurrencyConverter{DB: dbConn}, "Test Store", utils.DefaultLogger)

	h := &Handler{
		DB:            dbConn,
		Checkout:      checkout,
		Engine:        engine,
		Client:        client,
		Session:       &middleware.CookieSession{Secret: testSessionSecret},
		WebhookSecret: testWebhookSecret,
		SuccessURL:    testSuccessURL,
		Log:           utils.DefaultLogger,
	}

	r := gin.New()
	RegisterRoutes(r, h)
	return &testApp{router: r, db: dbConn}
}

func (a *testApp) seedOrder(t *testing.T, orderID int) {
	t.Helper()
	order := &models.Order{
		ID:           orderID,
		Total:        decimal.RequireFromString("25.00"),
		CurrencyCode: "USD",
		Email:        "customer@example.com",
		FirstName:    "Jane",
		LastName:     "Doe",
		StatusID:     1,
	}
	if err := a.db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (a *testApp) seedPayment(t *testing.T, orderID int, paymentID, status string) *models.PaymentRecord {
	t.Helper()
	rec := &models.PaymentRecord{
		OrderID:   orderID,
		PaymentID: paymentID,
		Address:   "TTestAddress111",
		Amount:    decimal.RequireFromString("25.00"),
		Network:   models.NetworkTRC20,
		Token:     models.TokenUSDT,
		Status:    status,
	}
	if err := a.db.Create(rec).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return rec
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// sessionCookie 伪造与 CookieSession 同构的签名 cookie
func sessionCookie(orderID int) *http.Cookie {
	mac := hmac.New(sha256.New, []byte(testSessionSecret))
	mac.Write([]byte(strconv.Itoa(orderID)))
	value := strconv.Itoa(orderID) + "." + hex.EncodeToString(mac.Sum(nil))
	return &http.Cookie{Name: "sg_order", Value: value}
}

func signedWebhook(t *testing.T, body []byte, at time.Time) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/payment/callback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	return req
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCallbackHandler_CompletedEvent(t *testing.T) {
	app := newTestApp(t, nil)
	app.seedOrder(t, 482)
	app.seedPayment(t, 482, "a1b2c3d4", models.StatusPending)

	body := []byte(`{"event":"payment.completed","external_order_id":"oc-482","tx_hash":"0xabc123def456","paid_amount":"25.00"}`)
	w := app.do(signedWebhook(t, body, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var rec models.PaymentRecord
	app.db.Where("order_id = ?", 482).First(&rec)
	if rec.Status != models.StatusPaid || rec.TxHash != "0xabc123def456" {
		t.Fatalf("record = %s / %s", rec.Status, rec.TxHash)
	}

	var order models.Order
	app.db.First(&order, 482)
	if order.StatusID != 5 {
		t.Fatalf("order status = %d, want 5", order.StatusID)
	}

	// 重复投递：还是 200，历史不再追加
	w = app.do(signedWebhook(t, body, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("replay status = %d", w.Code)
	}
	var histories int64
	app.db.Model(&models.OrderHistory{}).Where("order_id = ?", 482).Count(&histories)
	if histories != 1 {
		t.Fatalf("history rows = %d, want 1", histories)
	}
}

func TestCallbackHandler_Rejections(t *testing.T) {
	app := newTestApp(t, nil)
	body := []byte(`{"event":"payment.completed","payment_id":"a1b2c3d4"}`)

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payment/callback", nil)
		if w := app.do(req); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payment/callback", bytes.NewReader(body))
		req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
		if w := app.do(req); w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})

	t.Run("missing timestamp", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payment/callback", bytes.NewReader(body))
		req.Header.Set("X-Signature", "deadbeef")
		if w := app.do(req); w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		req := signedWebhook(t, body, time.Now().Add(-10*time.Minute))
		if w := app.do(req); w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		// 对原始报文签名，发送被改过的
		signed := signedWebhook(t, body, time.Now())
		tampered := bytes.Replace(body, []byte("a1b2c3d4"), []byte("ffffffff"), 1)
		req := httptest.NewRequest(http.MethodPost, "/payment/callback", bytes.NewReader(tampered))
		req.Header.Set("X-Timestamp", signed.Header.Get("X-Timestamp"))
		req.Header.Set("X-Signature", signed.Header.Get("X-Signature"))
		if w := app.do(req); w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})

	t.Run("invalid payload", func(t *testing.T) {
		req := signedWebhook(t, []byte(`{"payment_id":"no-event"}`), time.Now())
		if w := app.do(req); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestCallbackHandler_UntrackedPayment(t *testing.T) {
	app := newTestApp(t, nil)

	body := []byte(`{"event":"payment.completed","payment_id":"unknown-id","external_order_id":"oc-9999"}`)
	w := app.do(signedWebhook(t, body, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeJSON(t, w)
	if resp["note"] == nil || resp["note"] == "" {
		t.Fatalf("untracked ack should carry a note, got %v", resp)
	}
}

func TestConfirmHandler(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"payment": map[string]interface{}{
				"id":      "a1b2c3d4",
				"address": "TNewAddress222",
				"amount":  "25.00",
				"network": "TRC20",
				"token":   "USDT",
				"status":  "pending",
			},
		})
	})
	app.seedOrder(t, 482)

	req := httptest.NewRequest(http.MethodPost, "/payment/confirm",
		strings.NewReader(`{"order_id":482,"network":"TRC20","token":"USDT"}`))
	req.Header.Set("Content-Type", "application/json")
	w := app.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decodeJSON(t, w)
	if resp["payment_id"] != "a1b2c3d4" || resp["address"] != "TNewAddress222" {
		t.Fatalf("instructions = %v", resp)
	}
	if resp["network_label"] != "TRC20 (Tron)" {
		t.Fatalf("network_label = %v", resp["network_label"])
	}
	if resp["status_url"] != "/payment/status?order_id=482" {
		t.Fatalf("status_url = %v", resp["status_url"])
	}
	if resp["reused"] != false {
		t.Fatalf("reused = %v", resp["reused"])
	}

	// 确认时签发会话 cookie
	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "sg_order" && strings.HasPrefix(c.Value, "482.") {
			found = true
		}
	}
	if !found {
		t.Fatal("session cookie not issued")
	}

	// 再点一次：复用
	req = httptest.NewRequest(http.MethodPost, "/payment/confirm",
		strings.NewReader(`{"order_id":482}`))
	req.Header.Set("Content-Type", "application/json")
	w = app.do(req)
	if resp := decodeJSON(t, w); resp["reused"] != true {
		t.Fatalf("second confirm should reuse, got %v", resp["reused"])
	}
}

func TestConfirmHandler_Errors(t *testing.T) {
	t.Run("order not found", func(t *testing.T) {
		app := newTestApp(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/payment/confirm", strings.NewReader(`{"order_id":999}`))
		req.Header.Set("Content-Type", "application/json")
		if w := app.do(req); w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
	})

	t.Run("missing order id", func(t *testing.T) {
		app := newTestApp(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/payment/confirm", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		if w := app.do(req); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("upstream down", func(t *testing.T) {
		app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		app.seedOrder(t, 482)
		req := httptest.NewRequest(http.MethodPost, "/payment/confirm", strings.NewReader(`{"order_id":482}`))
		req.Header.Set("Content-Type", "application/json")
		if w := app.do(req); w.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", w.Code)
		}
	})

	t.Run("conversion failure", func(t *testing.T) {
		app := newTestApp(t, nil)
		order := &models.Order{ID: 7, Total: decimal.RequireFromString("25.00"), CurrencyCode: "XYZ", StatusID: 1}
		if err := app.db.Create(order).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/payment/confirm", strings.NewReader(`{"order_id":7}`))
		req.Header.Set("Content-Type", "application/json")
		if w := app.do(req); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestStatusHandler(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"payment": map[string]interface{}{"id": "a1b2c3d4", "status": "expired"},
		})
	})
	app.seedOrder(t, 482)
	app.seedPayment(t, 482, "a1b2c3d4", models.StatusPending)

	t.Run("no session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payment/status?order_id=482", nil)
		if w := app.do(req); w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
	})

	t.Run("session for another order", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payment/status?order_id=482", nil)
		req.AddCookie(sessionCookie(123))
		if w := app.do(req); w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
	})

	t.Run("missing order id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payment/status", nil)
		if w := app.do(req); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("poll applies remote expiry", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payment/status?order_id=482", nil)
		req.AddCookie(sessionCookie(482))
		w := app.do(req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		resp := decodeJSON(t, w)
		if resp["status"] != models.StatusExpired {
			t.Fatalf("status = %v, want expired", resp["status"])
		}
		if resp["redirect"] != nil {
			t.Fatal("expired poll must not redirect")
		}
	})
}

func TestStatusHandler_PaidRedirects(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"payment": map[string]interface{}{"id": "a1b2c3d4", "status": "paid", "tx_hash": "0xabc123def456"},
		})
	})
	app.seedOrder(t, 482)
	app.seedPayment(t, 482, "a1b2c3d4", models.StatusConfirming)

	req := httptest.NewRequest(http.MethodGet, "/payment/status?order_id=482", nil)
	req.AddCookie(sessionCookie(482))
	w := app.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeJSON(t, w)
	if resp["status"] != models.StatusPaid || resp["redirect"] != testSuccessURL {
		t.Fatalf("resp = %v", resp)
	}
}

func TestConfirmTxHandler(t *testing.T) {
	remoteCalled := false
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		remoteCalled = true
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "message": "Verification started"})
	})
	app.seedOrder(t, 482)
	rec := app.seedPayment(t, 482, "a1b2c3d4", models.StatusPending)
	app.db.Model(rec).Update("confirm_endpoint", "/v1/payments/a1b2c3d4/confirm")

	t.Run("no session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payment/confirmtx",
			strings.NewReader(`{"order_id":482,"tx_hash":"abcdef123456"}`))
		req.Header.Set("Content-Type", "application/json")
		if w := app.do(req); w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
	})

	t.Run("malformed hash rejected locally", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payment/confirmtx",
			strings.NewReader(`{"order_id":482,"tx_hash":"zz1234567890"}`))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(sessionCookie(482))
		w := app.do(req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		if remoteCalled {
			t.Fatal("remote must not be called for malformed hash")
		}
	})

	t.Run("valid hash forwarded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payment/confirmtx",
			strings.NewReader(`{"order_id":482,"tx_hash":"0xabcdef123456"}`))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(sessionCookie(482))
		w := app.do(req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		resp := decodeJSON(t, w)
		if resp["message"] != "Verification started" {
			t.Fatalf("message = %v", resp["message"])
		}
	})
}

func TestAdminRoutes(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"networks": []map[string]string{
				{"network": "TRC20", "token": "USDT"},
				{"network": "BEP20", "token": "USDT"},
			},
			"default_token": "USDT",
		})
	})

	t.Run("remote address rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
		req.RemoteAddr = "203.0.113.9:4242"
		if w := app.do(req); w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
	})

	t.Run("get settings", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
		req.RemoteAddr = "127.0.0.1:4242"
		w := app.do(req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		resp := decodeJSON(t, w)
		if resp["ref_prefix"] != "oc" {
			t.Fatalf("ref_prefix = %v", resp["ref_prefix"])
		}
	})

	t.Run("update settings", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/admin/settings",
			strings.NewReader(`{"expires_in":900,"static_address":"TStaticAddr333"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:4242"
		if w := app.do(req); w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}

		var s models.GatewaySettings
		app.db.First(&s)
		if s.ExpiresIn != 900 || s.StaticAddress != "TStaticAddr333" {
			t.Fatalf("settings = %+v", s)
		}
	})

	t.Run("refresh config", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/settings/refresh", nil)
		req.RemoteAddr = "127.0.0.1:4242"
		w := app.do(req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		resp := decodeJSON(t, w)
		networks, _ := resp["enabled_networks"].([]interface{})
		if len(networks) != 2 {
			t.Fatalf("enabled_networks = %v", resp["enabled_networks"])
		}

		var s models.GatewaySettings
		app.db.First(&s)
		if s.CachedConfig == "" || s.CachedAt == nil {
			t.Fatalf("config not cached: %+v", s)
		}
	})
}

func TestHealthProbes(t *testing.T) {
	app := newTestApp(t, nil)
	InitStartTime()

	w := app.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	w = app.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("readyz = %d, body = %s", w.Code, w.Body.String())
	}
}
