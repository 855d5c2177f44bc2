package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"StableGate/internal/db"
	"StableGate/internal/services"
)

// GetSettingsHandler 读取网关设置
func (h *Handler) GetSettingsHandler(c *gin.Context) {
	settings, err := db.GetSettings(h.DB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pending_status_id":   settings.PendingStatusID,
		"completed_status_id": settings.CompletedStatusID,
		"expired_status_id":   settings.ExpiredStatusID,
		"expires_in":          settings.ExpiresIn,
		"static_address":      settings.StaticAddress,
		"ref_prefix":          settings.RefPrefix,
		"debug":               settings.Debug,
		"enabled_networks":    services.EnabledNetworks(settings),
		"default_token":       services.DefaultToken(settings),
		"cached_at":           settings.CachedAt,
	})
}

// UpdateSettingsHandler 更新网关设置
func (h *Handler) UpdateSettingsHandler(c *gin.Context) {
	var req struct {
		PendingStatusID   *int    `json:"pending_status_id"`
		CompletedStatusID *int    `json:"completed_status_id"`
		ExpiredStatusID   *int    `json:"expired_status_id"`
		ExpiresIn         *int    `json:"expires_in"`
		StaticAddress     *string `json:"static_address"`
		RefPrefix         *string `json:"ref_prefix"`
		Debug             *bool   `json:"debug"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	settings, err := db.GetSettings(h.DB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings unavailable"})
		return
	}

	if req.PendingStatusID != nil {
		settings.PendingStatusID = *req.PendingStatusID
	}
	if req.CompletedStatusID != nil {
		settings.CompletedStatusID = *req.CompletedStatusID
	}
	if req.ExpiredStatusID != nil {
		settings.ExpiredStatusID = *req.ExpiredStatusID
	}
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		settings.ExpiresIn = *req.ExpiresIn
	}
	if req.StaticAddress != nil {
		settings.StaticAddress = *req.StaticAddress
	}
	if req.RefPrefix != nil && *req.RefPrefix != "" {
		settings.RefPrefix = *req.RefPrefix
	}
	if req.Debug != nil {
		settings.Debug = *req.Debug
		h.Log.SetDebug(*req.Debug)
	}

	if err := db.SaveSettings(h.DB, settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RefreshConfigHandler 从远端拉取网络配置并缓存
// 启用网络列表与默认代币都以这份缓存为准
func (h *Handler) RefreshConfigHandler(c *gin.Context) {
	cfg, err := h.Client.FetchConfig(c.Request.Context())
	if err != nil {
		h.Log.Debug("config refresh failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not reach the monitoring service"})
		return
	}

	settings, err := db.GetSettings(h.DB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings unavailable"})
		return
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache failed"})
		return
	}
	now := time.Now()
	settings.CachedConfig = string(raw)
	settings.CachedAt = &now

	if err := db.SaveSettings(h.DB, settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"enabled_networks": services.EnabledNetworks(settings),
		"default_token":    services.DefaultToken(settings),
		"cached_at":        now,
	})
}
