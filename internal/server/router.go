package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"roundup-core/internal/handler"
	"roundup-core/internal/handler/response"
	"roundup-core/pkg/monitor"
)

// Handlers 路由需要的全部处理器
type Handlers struct {
	Webhook *handler.WebhookHandler
	Admin   *handler.AdminHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h Handlers) *gin.Engine {
	// 0. 初始化监控指标
	monitor.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 4. Webhook 入口 (验签在 handler 内完成，回真实 HTTP 状态码)
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/bankfeed", h.Webhook.HandleBankfeed)
		webhooks.POST("/payment", h.Webhook.HandlePayment)
	}

	// 5. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})

		api.GET("/users/:id/roundups/summary", h.Admin.GetRoundupSummary)

		admin := api.Group("/admin")
		{
			admin.POST("/sync/sweep", h.Admin.SweepConnections)
			admin.POST("/sync/connection", h.Admin.SyncConnection)
			admin.POST("/batches/close", h.Admin.CloseBatch)
			admin.GET("/batches/:id", h.Admin.GetBatch)
			admin.POST("/payouts/close", h.Admin.ClosePayout)
			admin.GET("/payouts/:id", h.Admin.GetPayout)
		}
	}

	return r
}
