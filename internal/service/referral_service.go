package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roundup-core/internal/model"
	"roundup-core/pkg/logger"
	"roundup-core/pkg/monitor"
)

// ReferralService 推荐佣金计提
// 佣金只在 Payout 终局为 completed 时计提，随 Webhook 迁移同一事务落库
type ReferralService struct {
	rate decimal.Decimal // 佣金比例，"2.0" 表示净额的 2%
}

func NewReferralService(commissionPercent string) *ReferralService {
	rate, err := decimal.NewFromString(commissionPercent)
	if err != nil {
		logger.Warn("佣金比例配置非法，按 0 处理", zap.String("value", commissionPercent))
		rate = decimal.Zero
	}
	return &ReferralService{rate: rate}
}

// AccrueForPayout 为一笔已完成的 Payout 计提推荐佣金 (在调用方事务内执行)
// 窗口判定以 Payout 的 period_end 为准: 窗口内发起、窗口外结清的 Payout 不再计提。
// payout_id 唯一索引保证同一 Payout 重复事件只计提一次。
func (s *ReferralService) AccrueForPayout(tx *gorm.DB, payout *model.ChurchPayout, externalEventID string) error {
	if s.rate.IsZero() {
		return nil
	}

	var ref model.Referral
	err := tx.Where("referred_org_id = ?", payout.OrgID).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil // 非被推荐机构
	}
	if err != nil {
		return err
	}

	windowEnd := ref.ActivatedAt.AddDate(0, 0, ref.WindowDays)
	if payout.PeriodEnd.After(windowEnd) {
		logger.Debug("推荐窗口已过，不计提佣金",
			zap.Uint64("payout_id", payout.ID),
			zap.Time("window_end", windowEnd))
		return nil
	}

	amount := payout.NetAmount.Mul(s.rate).Div(decimal.NewFromInt(100)).Round(2)
	if !amount.IsPositive() {
		return nil
	}

	commission := model.ReferralCommission{
		ReferringOrgID:   ref.ReferringOrgID,
		ReferredOrgID:    ref.ReferredOrgID,
		PayoutID:         payout.ID,
		CommissionAmount: amount,
		Status:           model.CommissionStatusAccrued,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payout_id"}},
		DoNothing: true,
	}).Create(&commission)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // 已计提过
	}

	monitor.Business.CommissionAccruedTotal.Inc()
	return RecordAudit(tx, model.SubjectCommission, commission.ID,
		"commission_accrued", "", model.CommissionStatusAccrued, externalEventID)
}

// windowCovers 仅供测试复用的窗口判定
func windowCovers(activatedAt time.Time, windowDays int, periodEnd time.Time) bool {
	return !periodEnd.After(activatedAt.AddDate(0, 0, windowDays))
}
