package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"roundup-core/internal/client/bankfeed"
	"roundup-core/internal/client/payment"
	"roundup-core/internal/handler"
	"roundup-core/internal/model"
	"roundup-core/internal/server"
	"roundup-core/internal/service"
	"roundup-core/internal/service/mq"
	"roundup-core/internal/worker"
	"roundup-core/pkg/cache"
	"roundup-core/pkg/config"
	"roundup-core/pkg/database"
	"roundup-core/pkg/logger"
	"roundup-core/pkg/utils/lock"
	"roundup-core/pkg/validator"
)

// @title Roundup Core API
// @version 1.0
// @description Roundup Processing & Payout Settlement Engine
// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. 初始化 Config
	config.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	validator.Init()

	// 2. 连接数据库
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	// 3. 连接 Redis
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	// 4. 执行数据库迁移 (Auto Migrate) - 仅开发环境
	if config.Global.App.Env == "development" {
		logger.Info("开发环境: 尝试自动迁移 Schema (GORM AutoMigrate)...")
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
		logger.Info("数据库自动迁移完成 (Dev Mode)")
	} else {
		logger.Info("生产环境: 跳过 AutoMigrate，请使用 migrate 工具管理 Schema")
	}

	// 5. 外部客户端 (BaseURL 留空则进入模拟模式)
	var bankClient bankfeed.Client
	if config.Global.Bankfeed.BaseURL != "" {
		bankClient = bankfeed.NewHTTPClient(config.Global.Bankfeed.BaseURL, config.Global.Bankfeed.APIKey)
	} else {
		logger.Warn("Bankfeed BaseURL 未配置，银行聚合器进入模拟模式")
		bankClient = bankfeed.NewMockClient()
	}

	var payClient payment.Client
	if config.Global.Payment.BaseURL != "" {
		payClient = payment.NewHTTPClient(config.Global.Payment.BaseURL, config.Global.Payment.APIKey)
	} else {
		logger.Warn("Payment BaseURL 未配置，支付处理器进入模拟模式")
		payClient = payment.NewMockClient()
	}

	// 6. 缓存: 本地 + Redis 两级
	localCache := cache.NewMemoryCache(5*time.Minute, 10*time.Minute)
	appCache := cache.NewMultiLevelCache(localCache, cache.NewRedisCache(rdb))
	distLock := lock.NewRedisLock(rdb)

	// 7. 业务服务
	syncSvc := service.NewBankSyncService(db, bankClient, distLock, appCache, config.Global.Bankfeed.PageSize).
		WithCredentialKey(config.Global.Bankfeed.CredentialKey)
	collector := service.NewCollectorService(db, payClient, config.Global.Payment.Currency)
	batchSvc := service.NewBatchService(db, collector)

	// KYC 门: 外部 Document/KYC 服务未接入时放行所有机构
	eligibility := service.NewCachedEligibilityChecker(
		service.NewStaticEligibilityChecker(), appCache, 10*time.Minute)
	payoutSvc := service.NewPayoutService(db, payClient, eligibility,
		config.Global.Billing.PlatformFeePercent, config.Global.Billing.PayoutPeriodDays)

	referralSvc := service.NewReferralService(config.Global.Billing.CommissionPercent)
	querySvc := service.NewRoundupQueryService(db, appCache)

	// 8. 异步任务 (asynq): webhook 触发的 sync 和通知投递
	workerClient := worker.NewClient(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	workerServer := worker.NewServer(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB, 10, syncSvc)
	workerServer.Start()

	webhookSvc := service.NewWebhookService(db, syncSvc, referralSvc, workerClient)

	// 9. 消息队列 + Outbox 中继
	var producer mq.Producer
	var consumer mq.Consumer
	if config.Global.Redis.MQType == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...")
		producer = mq.NewKafkaProducer(config.Global.Kafka.Brokers)
		consumer = mq.NewKafkaConsumer(config.Global.Kafka.Brokers, "roundup_notify_group")
	} else {
		logger.Info("使用 Redis Streams 作为消息队列...")
		producer = mq.NewRedisProducer(rdb)
		consumer = mq.NewRedisConsumer(rdb, "roundup_notify", "notifier-0")
	}

	relayCtx, relayCancel := context.WithCancel(context.Background())
	relaySvc := service.NewRelayService(db, producer)
	go relaySvc.Start(relayCtx)

	dispatcher := worker.NewNotifyDispatcher(consumer, workerClient)
	dispatcher.Start(relayCtx)

	// 10. 定时任务
	cronSvc := service.NewCronService(rdb, syncSvc, batchSvc, payoutSvc)
	cronSvc.Start()

	// 11. HTTP Router
	webhookHandler := handler.NewWebhookHandler(webhookSvc,
		config.Global.Bankfeed.WebhookSecret, config.Global.Payment.WebhookSecret)
	adminHandler := handler.NewAdminHandler(syncSvc, batchSvc, payoutSvc, querySvc, db)

	r := server.NewHTTPRouter(server.Handlers{
		Webhook: webhookHandler,
		Admin:   adminHandler,
	})

	// 12. 启动应用 (阻塞直到收到关闭信号)
	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r)
	app.OnStop(cronSvc.Stop)
	app.OnStop(relayCancel)
	app.OnStop(workerServer.Stop)
	app.Run()

	// 13. 退出后资源清理
	logger.Info("正在关闭数据库连接...")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	workerClient.Close()
	logger.Info("系统已退出")
}
