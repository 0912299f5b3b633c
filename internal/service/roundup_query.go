package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"roundup-core/internal/model"
	"roundup-core/pkg/cache"
)

const summaryCacheTTL = 5 * time.Minute

// RoundupSummary 用户当前周期的凑整概览
type RoundupSummary struct {
	UserID        uint64          `json:"user_id"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	PendingCount  int64           `json:"pending_count"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
}

// RoundupQueryService 只读查询，带 TTL 缓存
// 缓存键和 BankSyncService 的失效键一致: sync 写入新记录后下一次读是新鲜的
type RoundupQueryService struct {
	db    *gorm.DB
	cache cache.Cache
}

func NewRoundupQueryService(db *gorm.DB, ca cache.Cache) *RoundupQueryService {
	return &RoundupQueryService{db: db, cache: ca}
}

// PendingSummary 当前周期的 pending 凑整统计
func (s *RoundupQueryService) PendingSummary(ctx context.Context, userID uint64) (*RoundupSummary, error) {
	key := fmt.Sprintf("roundup:summary:%d", userID)

	var cached RoundupSummary
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	var policy model.UserPolicy
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&policy).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
		policy = model.UserPolicy{UserID: userID, PeriodDays: 14}
	}
	period := CurrentPeriod(policy.PeriodDays, time.Now())

	summary := RoundupSummary{
		UserID:        userID,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		PendingAmount: decimal.Zero,
	}

	row := struct {
		Count int64
		Total decimal.Decimal
	}{}
	err := s.db.WithContext(ctx).Model(&model.RoundupRecord{}).
		Select("COUNT(*) AS count, COALESCE(SUM(roundup_amount), 0) AS total").
		Where("user_id = ? AND status = ?", userID, model.RoundupStatusPending).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	summary.PendingCount = row.Count
	summary.PendingAmount = row.Total

	_ = s.cache.Set(ctx, key, &summary, summaryCacheTTL)
	return &summary, nil
}
