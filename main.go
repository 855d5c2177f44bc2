package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"StableGate/internal/db"
	"StableGate/internal/handler"
	"StableGate/internal/middleware"
	"StableGate/internal/models"
	"StableGate/internal/services"
	"StableGate/utils"
)

type Config struct {
	MySQL struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
	} `mapstructure:"mysql"`
	Monitor struct {
		APIURL        string `mapstructure:"api_url"`        // 远端监控服务地址
		APIKey        string `mapstructure:"api_key"`        // pk_live_xxx / pk_test_xxx
		WebhookSecret string `mapstructure:"webhook_secret"` // whsec_xxx
	} `mapstructure:"monitor"`
	Store struct {
		Name          string `mapstructure:"name"`
		SuccessURL    string `mapstructure:"success_url"`    // 支付完成后跳回的店铺页面
		SessionSecret string `mapstructure:"session_secret"` // 订单会话 cookie 签名密钥
	} `mapstructure:"store"`
	App struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"app"`
}

func main() {
	// 读取配置
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal("读取配置失败:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatal("解析配置失败:", err)
	}
	if cfg.Monitor.APIKey == "" || cfg.Monitor.WebhookSecret == "" {
		log.Fatal("monitor.api_key 和 monitor.webhook_secret 不能为空")
	}

	// 连接 MySQL 并初始化 DB
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.DBName)
	dbConn, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("MySQL 连接失败:", err)
	}

	// 运行表结构迁移（创建新表或更新表结构）
	if err := dbConn.AutoMigrate(
		&models.PaymentRecord{},
		&models.GatewaySettings{},
		&models.Order{},
		&models.OrderHistory{},
		&models.CurrencyRate{},
	); err != nil {
		log.Fatal("表迁移失败:", err)
	}
	db.DB = dbConn

	logger := utils.DefaultLogger
	if settings, err := db.GetSettings(dbConn); err == nil {
		logger.SetDebug(settings.Debug)
	}

	// 装配服务：配置在构造时注入，不读全局
	client := services.NewPayzClient(cfg.Monitor.APIURL, cfg.Monitor.APIKey, logger)
	orders := &services.GormOrderStore{DB: dbConn}
	converter := &services.GormCurrencyConverter{DB: dbConn}
	engine := services.NewReconcileEngine(dbConn, orders, logger)
	checkout := services.NewCheckoutService(dbConn, client, engine, orders, converter, cfg.Store.Name, logger)
	session := &middleware.CookieSession{Secret: cfg.Store.SessionSecret}

	h := &handler.Handler{
		DB:            dbConn,
		Checkout:      checkout,
		Engine:        engine,
		Client:        client,
		Session:       session,
		WebhookSecret: cfg.Monitor.WebhookSecret,
		SuccessURL:    cfg.Store.SuccessURL,
		Log:           logger,
	}

	handler.InitStartTime()

	// 初始化 Gin
	r := gin.Default()
	handler.RegisterRoutes(r, h)

	// 启动服务器
	port := fmt.Sprintf(":%d", cfg.App.Port)
	logger.Info("服务器启动于端口 %s", port)
	if err := r.Run(port); err != nil {
		log.Fatal("Gin 服务器启动失败:", err)
	}
}
