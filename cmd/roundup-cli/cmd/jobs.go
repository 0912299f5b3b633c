package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/redis/go-redis/v9"

	"roundup-core/internal/client/bankfeed"
	"roundup-core/internal/client/payment"
	"roundup-core/internal/model"
	"roundup-core/internal/service"
	"roundup-core/pkg/cache"
	"roundup-core/pkg/config"
	"roundup-core/pkg/errno"
	"roundup-core/pkg/logger"
	"roundup-core/pkg/utils/lock"
)

var (
	flagUserID uint64
	flagOrgID  uint64
)

func init() {
	closeBatchCmd.Flags().Uint64Var(&flagUserID, "user", 0, "只收口指定用户 (默认全部)")
	closePayoutCmd.Flags().Uint64Var(&flagOrgID, "org", 0, "只收口指定机构 (默认全部)")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(closeBatchCmd)
	rootCmd.AddCommand(closePayoutCmd)
}

func buildServices(db *gorm.DB, rdb *redis.Client) (*service.BankSyncService, *service.BatchService, *service.PayoutService) {
	var bankClient bankfeed.Client
	if config.Global.Bankfeed.BaseURL != "" {
		bankClient = bankfeed.NewHTTPClient(config.Global.Bankfeed.BaseURL, config.Global.Bankfeed.APIKey)
	} else {
		bankClient = bankfeed.NewMockClient()
	}
	var payClient payment.Client
	if config.Global.Payment.BaseURL != "" {
		payClient = payment.NewHTTPClient(config.Global.Payment.BaseURL, config.Global.Payment.APIKey)
	} else {
		payClient = payment.NewMockClient()
	}

	appCache := cache.NewMultiLevelCache(
		cache.NewMemoryCache(5*time.Minute, 10*time.Minute),
		cache.NewRedisCache(rdb))
	distLock := lock.NewRedisLock(rdb)

	syncSvc := service.NewBankSyncService(db, bankClient, distLock, appCache, config.Global.Bankfeed.PageSize).
		WithCredentialKey(config.Global.Bankfeed.CredentialKey)
	collector := service.NewCollectorService(db, payClient, config.Global.Payment.Currency)
	batchSvc := service.NewBatchService(db, collector)

	eligibility := service.NewCachedEligibilityChecker(
		service.NewStaticEligibilityChecker(), appCache, 10*time.Minute)
	payoutSvc := service.NewPayoutService(db, payClient, eligibility,
		config.Global.Billing.PlatformFeePercent, config.Global.Billing.PayoutPeriodDays)

	return syncSvc, batchSvc, payoutSvc
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "扫描所有 active 银行连接并拉取新流水",
	Run: func(cmd *cobra.Command, args []string) {
		db, rdb := mustInit()
		syncSvc, _, _ := buildServices(db, rdb)

		report, err := syncSvc.SweepConnections(context.Background())
		if err != nil {
			logger.Error("sweep 失败", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("sweep 完成", zap.Int("total", report.Total), zap.Int("failed", report.Failed))
		if report.Failed > 0 {
			os.Exit(1)
		}
	},
}

var closeBatchCmd = &cobra.Command{
	Use:   "close-batch",
	Short: "收口上一个归集周期，把 pending 凑整聚合成批次并发起扣款",
	Run: func(cmd *cobra.Command, args []string) {
		db, rdb := mustInit()
		_, batchSvc, _ := buildServices(db, rdb)
		ctx := context.Background()

		if flagUserID != 0 {
			periodDays := 14
			var policy model.UserPolicy
			if err := db.Where("user_id = ?", flagUserID).First(&policy).Error; err == nil {
				periodDays = policy.PeriodDays
			}
			period := service.PreviousPeriod(periodDays, time.Now())
			batch, err := batchSvc.CloseUserPeriod(ctx, flagUserID, period)
			if err != nil {
				if _, ok := err.(errno.Errno); ok {
					logger.Info("该周期已有批次，无事可做")
					return
				}
				logger.Error("收口失败", zap.Uint64("user_id", flagUserID), zap.Error(err))
				os.Exit(1)
			}
			if batch == nil {
				logger.Info("该周期没有待归集的凑整")
				return
			}
			logger.Info("批次已创建", zap.Uint64("batch_id", batch.ID), zap.String("total", batch.TotalAmount.StringFixed(2)))
			return
		}

		closed, err := batchSvc.CloseDuePeriods(ctx, time.Now())
		if err != nil {
			logger.Error("批次收口失败", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("批次收口完成", zap.Int("batches_created", closed))
	},
}

var closePayoutCmd = &cobra.Command{
	Use:   "close-payout",
	Short: "收口上一个结算周期，把 collected 批次结算给机构",
	Run: func(cmd *cobra.Command, args []string) {
		db, rdb := mustInit()
		_, _, payoutSvc := buildServices(db, rdb)
		ctx := context.Background()

		if flagOrgID != 0 {
			payout, err := payoutSvc.ClosePreviousPeriod(ctx, flagOrgID, time.Now())
			if err != nil {
				if _, ok := err.(errno.Errno); ok {
					logger.Info("该周期已有 Payout，无事可做")
					return
				}
				logger.Error("结算收口失败", zap.Uint64("org_id", flagOrgID), zap.Error(err))
				os.Exit(1)
			}
			if payout == nil {
				logger.Info("该周期没有可结算的批次")
				return
			}
			logger.Info("Payout 已创建",
				zap.Uint64("payout_id", payout.ID),
				zap.String("status", payout.Status),
				zap.String("net", payout.NetAmount.StringFixed(2)))
			if payout.Status == model.PayoutStatusFailed {
				os.Exit(1)
			}
			return
		}

		closed, err := payoutSvc.CloseDuePayoutPeriods(ctx, time.Now())
		if err != nil {
			logger.Error("结算收口失败", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("结算收口完成", zap.Int("payouts_created", closed))
	},
}
