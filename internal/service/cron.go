package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"roundup-core/pkg/logger"
	"roundup-core/pkg/utils/lock"
)

// CronService 三个周期任务: 银行流水兜底扫描、归集周期收口、结算周期收口
// 每个任务启动前先抢分布式锁，多实例部署时同一时刻只有一个节点在跑。
// 收口任务本身有 guard 兜底，锁只是省掉无谓的重复扫描。
type CronService struct {
	cron    *cron.Cron
	redis   *redis.Client
	syncer  *BankSyncService
	batcher *BatchService
	payer   *PayoutService
}

func NewCronService(rdb *redis.Client, syncer *BankSyncService, batcher *BatchService, payer *PayoutService) *CronService {
	return &CronService{
		cron:    cron.New(),
		redis:   rdb,
		syncer:  syncer,
		batcher: batcher,
		payer:   payer,
	}
}

func (s *CronService) Start() {
	_, _ = s.cron.AddFunc("0 * * * *", s.RunSweep)          // 每小时兜底扫描所有连接
	_, _ = s.cron.AddFunc("30 2 * * *", s.RunBatchClose)    // 每天 02:30 收口到期的归集周期
	_, _ = s.cron.AddFunc("30 3 * * *", s.RunPayoutClose)   // 每天 03:30 收口到期的结算周期

	s.cron.Start()
	logger.Info("Cron Service started")
}

func (s *CronService) Stop() {
	s.cron.Stop()
	logger.Info("Cron Service stopped")
}

// withLock 抢到锁才执行；抢不到说明有别的节点在跑，跳过
func (s *CronService) withLock(key string, ttl time.Duration, fn func(ctx context.Context)) {
	ctx := context.Background()
	locker := lock.NewRedisLock(s.redis)
	locked, err := locker.Acquire(ctx, key, ttl)
	if err != nil || !locked {
		logger.Debug("获取任务锁失败或已有实例在运行", zap.String("key", key))
		return
	}
	defer locker.Release(ctx, key)

	fn(ctx)
}

// RunSweep 兜底扫描: webhook 丢失/侧效未达时靠它补偿
func (s *CronService) RunSweep() {
	s.withLock("cron:lock:bank_sweep", 30*time.Minute, func(ctx context.Context) {
		if _, err := s.syncer.SweepConnections(ctx); err != nil {
			logger.Error("银行流水兜底扫描失败", zap.Error(err))
		}
	})
}

// RunBatchClose 收口所有到期的归集周期
func (s *CronService) RunBatchClose() {
	s.withLock("cron:lock:batch_close", 30*time.Minute, func(ctx context.Context) {
		closed, err := s.batcher.CloseDuePeriods(ctx, time.Now())
		if err != nil {
			logger.Error("归集周期收口任务失败", zap.Error(err))
			return
		}
		logger.Info("归集周期收口完成", zap.Int("batches_created", closed))
	})
}

// RunPayoutClose 收口所有到期的结算周期
// 每天跑，未到期的周期由 guard 去重成 no-op
func (s *CronService) RunPayoutClose() {
	s.withLock("cron:lock:payout_close", 30*time.Minute, func(ctx context.Context) {
		closed, err := s.payer.CloseDuePayoutPeriods(ctx, time.Now())
		if err != nil {
			logger.Error("结算周期收口任务失败", zap.Error(err))
			return
		}
		logger.Info("结算周期收口完成", zap.Int("payouts_created", closed))
	})
}
