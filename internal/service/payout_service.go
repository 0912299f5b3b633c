package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roundup-core/internal/client"
	"roundup-core/internal/client/payment"
	"roundup-core/internal/model"
	"roundup-core/pkg/errno"
	"roundup-core/pkg/logger"
	"roundup-core/pkg/monitor"
)

const (
	transferMaxAttempts = 3
	transferBaseBackoff = time.Second
)

// PayoutService 按结算周期把机构名下已扣款成功的批次结算成一笔 Payout
// gross = 成员批次之和，fee = gross * 费率，net = gross - fee。
// 批次一旦挂到 Payout 上即不可变；终局仍由 WebhookReconciler 的 transfer.* 事件写入。
type PayoutService struct {
	db          *gorm.DB
	client      payment.Client
	eligibility EligibilityChecker
	feePercent  decimal.Decimal
	periodDays  int
}

func NewPayoutService(db *gorm.DB, c payment.Client, eligibility EligibilityChecker, platformFeePercent string, periodDays int) *PayoutService {
	fee, err := decimal.NewFromString(platformFeePercent)
	if err != nil {
		logger.Warn("平台费率配置非法，按 0 处理", zap.String("value", platformFeePercent))
		fee = decimal.Zero
	}
	return &PayoutService{
		db:          db,
		client:      c,
		eligibility: eligibility,
		feePercent:  fee,
		periodDays:  periodDays,
	}
}

// TransferIdempotencyKey Payout 转账的确定性幂等键
func TransferIdempotencyKey(payoutID uint64) string {
	return fmt.Sprintf("church_payout_%d", payoutID)
}

// SplitFee 按费率拆分毛额，返回 (fee, net)。全程定点运算，fee 四舍五入到分。
func SplitFee(gross, feePercent decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	fee := gross.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(2)
	return fee, gross.Sub(fee)
}

// ClosePreviousPeriod 按配置的周期长度收口上一个结算周期
func (s *PayoutService) ClosePreviousPeriod(ctx context.Context, orgID uint64, now time.Time) (*model.ChurchPayout, error) {
	return s.ClosePayoutPeriod(ctx, orgID, PreviousPeriod(s.periodDays, now))
}

// CloseDuePayoutPeriods 定时任务入口: 给所有 active 机构收口上一个结算周期
// 单个机构失败只记日志不中断
func (s *PayoutService) CloseDuePayoutPeriods(ctx context.Context, now time.Time) (int, error) {
	var orgs []model.Organization
	if err := s.db.Where("status = ?", "active").Find(&orgs).Error; err != nil {
		return 0, fmt.Errorf("查询机构失败: %w", err)
	}

	period := PreviousPeriod(s.periodDays, now)
	closed := 0
	for _, org := range orgs {
		payout, err := s.ClosePayoutPeriod(ctx, org.ID, period)
		if err != nil {
			if _, ok := err.(errno.Errno); ok {
				continue // 该周期已有 Payout，调度器重复触发
			}
			logger.Error("机构结算收口失败",
				zap.Uint64("org_id", org.ID),
				zap.Error(err))
			continue
		}
		if payout != nil {
			closed++
		}
	}
	return closed, nil
}

// ClosePayoutPeriod 给单个机构收口一个结算周期
// KYC 门在事务外先查 (带 TTL 缓存的外部调用，不允许持锁)。
// 不合格时 Payout 直接建成 failed/kyc_ineligible，不挂批次也不发转账，
// 批次保持可结算，等机构整改后随下个周期一起结。
func (s *PayoutService) ClosePayoutPeriod(ctx context.Context, orgID uint64, period Period) (*model.ChurchPayout, error) {
	eligible, err := s.eligibility.IsEligible(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("KYC 资格查询失败 org=%d: %w", orgID, err)
	}

	var payout *model.ChurchPayout
	var destinationRef string

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 并发收口串行化: 锁机构行
		var org model.Organization
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&org, orgID).Error; err != nil {
			return fmt.Errorf("机构不存在: %w", err)
		}
		destinationRef = org.AccountRef

		// guard: 该周期已存在非 failed Payout
		var count int64
		if err := tx.Model(&model.ChurchPayout{}).
			Where("org_id = ? AND period_start = ? AND period_end = ? AND status <> ?",
				orgID, period.Start, period.End, model.PayoutStatusFailed).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			logger.Error("周期已存在非 failed Payout，放弃重复收口",
				zap.Uint64("org_id", orgID),
				zap.Time("period_start", period.Start))
			return errno.ErrPayoutExists
		}

		// KYC 拒绝一个周期只记一次，机构整改 (重新 eligible) 后才允许重建，
		// 否则每晚的定时收口会不停堆 failed/kyc_ineligible 行
		if !eligible {
			var rejected int64
			if err := tx.Model(&model.ChurchPayout{}).
				Where("org_id = ? AND period_start = ? AND period_end = ? AND status = ? AND fail_reason = ?",
					orgID, period.Start, period.End, model.PayoutStatusFailed, model.PayoutFailReasonKYC).
				Count(&rejected).Error; err != nil {
				return err
			}
			if rejected > 0 {
				logger.Debug("本周期的 KYC 拒绝已记录，跳过",
					zap.Uint64("org_id", orgID),
					zap.Time("period_start", period.Start))
				return errno.ErrPayoutExists
			}
		}

		// 候选: 已扣款成功、尚未结算、归集周期落在结算窗口内的批次
		var batches []model.DonationBatch
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ? AND status = ? AND payout_id IS NULL AND period_end < ?",
				orgID, model.BatchStatusCollected, period.End.AddDate(0, 0, 1)).
			Order("id ASC").
			Find(&batches).Error; err != nil {
			return err
		}
		if len(batches) == 0 {
			return nil // 空周期不是失败
		}

		gross := decimal.Zero
		ids := make([]uint64, 0, len(batches))
		for _, b := range batches {
			gross = gross.Add(b.TotalAmount)
			ids = append(ids, b.ID)
		}
		fee, net := SplitFee(gross, s.feePercent)

		newPayout := model.ChurchPayout{
			OrgID:       orgID,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			GrossAmount: gross,
			PlatformFee: fee,
			NetAmount:   net,
			Status:      model.PayoutStatusPending,
		}
		if !eligible {
			newPayout.Status = model.PayoutStatusFailed
			newPayout.FailReason = model.PayoutFailReasonKYC
		}
		if err := tx.Create(&newPayout).Error; err != nil {
			return err
		}

		if eligible {
			// 成员关系从此不可变
			if err := tx.Model(&model.DonationBatch{}).
				Where("id IN ?", ids).
				Update("payout_id", newPayout.ID).Error; err != nil {
				return err
			}
		}

		action := "payout_created"
		if !eligible {
			action = "payout_kyc_rejected"
			monitor.Business.PayoutSettledTotal.WithLabelValues("failed").Inc()
		}
		if err := RecordAudit(tx, model.SubjectChurchPayout, newPayout.ID,
			action, "", newPayout.Status, ""); err != nil {
			return err
		}

		payout = &newPayout
		return nil
	})
	if err != nil || payout == nil {
		return payout, err
	}

	if !eligible {
		logger.Warn("机构 KYC 不合格，本期不发转账",
			zap.Uint64("org_id", orgID),
			zap.Uint64("payout_id", payout.ID))
		return payout, nil
	}

	// 转账在锁外发起
	if err := s.initiateTransfer(ctx, payout, destinationRef); err != nil {
		return payout, err
	}
	return payout, nil
}

// initiateTransfer 对 pending Payout 发起转账
// 和扣款同一套路: CAS 占位、有界重试、耗尽落 failed，成功后停在 transferring 等 webhook
func (s *PayoutService) initiateTransfer(ctx context.Context, payout *model.ChurchPayout, destinationRef string) error {
	res := s.db.Model(&model.ChurchPayout{}).
		Where("id = ? AND status = ?", payout.ID, model.PayoutStatusPending).
		Update("status", model.PayoutStatusTransferring)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		logger.Debug("payout 不在 pending 状态，跳过转账", zap.Uint64("payout_id", payout.ID))
		return nil
	}
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		return RecordAudit(tx, model.SubjectChurchPayout, payout.ID,
			"transfer_submitting", model.PayoutStatusPending, model.PayoutStatusTransferring, "")
	}); err != nil {
		// CAS 之后的本地失败也要终局，不把 payout 晾在 transferring
		return s.failPayout(payout, model.PayoutFailReasonTransfer, err)
	}

	result, err := s.transferWithRetry(ctx, payout, destinationRef)
	if err != nil {
		return s.failPayout(payout, model.PayoutFailReasonTransfer, err)
	}
	if result.Status == payment.StatusFailed {
		return s.failPayout(payout, model.PayoutFailReasonTransfer, nil)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.ChurchPayout{}).
			Where("id = ? AND status = ?", payout.ID, model.PayoutStatusTransferring).
			Update("transfer_ref", result.TransferRef).Error; err != nil {
			return err
		}
		monitor.Business.PayoutAmountTotal.Add(payout.NetAmount.InexactFloat64())
		return RecordAudit(tx, model.SubjectChurchPayout, payout.ID,
			"transfer_submitted", model.PayoutStatusTransferring, model.PayoutStatusTransferring, "")
	})
}

func (s *PayoutService) transferWithRetry(ctx context.Context, payout *model.ChurchPayout, destinationRef string) (*payment.TransferResult, error) {
	key := TransferIdempotencyKey(payout.ID)
	var lastErr error
	backoff := transferBaseBackoff
	for attempt := 1; attempt <= transferMaxAttempts; attempt++ {
		result, err := s.client.Transfer(ctx, payout.NetAmount, destinationRef, key)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !client.IsTransient(err) {
			return nil, err
		}
		logger.Error("转账请求失败，准备重试",
			zap.Uint64("payout_id", payout.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("转账重试耗尽: %w", lastErr)
}

func (s *PayoutService) failPayout(payout *model.ChurchPayout, reason string, cause error) error {
	logger.Error("payout 转账失败",
		zap.Uint64("payout_id", payout.ID),
		zap.String("reason", reason),
		zap.Error(cause))
	monitor.Business.PayoutSettledTotal.WithLabelValues("failed").Inc()

	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ChurchPayout{}).
			Where("id = ? AND status = ?", payout.ID, model.PayoutStatusTransferring).
			Updates(map[string]interface{}{
				"status":      model.PayoutStatusFailed,
				"fail_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // webhook 抢先终局了，终态不覆盖
		}
		return RecordAudit(tx, model.SubjectChurchPayout, payout.ID,
			"transfer_failed", model.PayoutStatusTransferring, model.PayoutStatusFailed, "")
	})
}
