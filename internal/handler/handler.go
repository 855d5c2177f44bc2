package handler

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"StableGate/internal/middleware"
	"StableGate/internal/services"
	"StableGate/utils"
)

// Handler 依赖集合，main 中装配
type Handler struct {
	DB            *gorm.DB
	Checkout      *services.CheckoutService
	Engine        *services.ReconcileEngine
	Client        *services.PayzClient
	Session       *middleware.CookieSession
	WebhookSecret string
	SuccessURL    string // 支付完成后跳回店铺的地址
	Log           *utils.Logger
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/healthz", h.HealthzHandler)
	r.GET("/readyz", h.ReadinessHandler)

	payment := r.Group("/payment")
	{
		payment.POST("/confirm", h.ConfirmHandler)
		payment.POST("/callback", h.CallbackHandler)
		payment.GET("/status", h.StatusHandler)
		payment.POST("/confirmtx", h.ConfirmTxHandler)
	}

	admin := r.Group("/admin", middleware.LocalOnly())
	{
		admin.GET("/settings", h.GetSettingsHandler)
		admin.PUT("/settings", h.UpdateSettingsHandler)
		admin.POST("/settings/refresh", h.RefreshConfigHandler)
	}
}
