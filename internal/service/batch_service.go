package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roundup-core/internal/model"
	"roundup-core/pkg/errno"
	"roundup-core/pkg/logger"
	"roundup-core/pkg/monitor"
)

// BatchService 在归集周期收口时把一个用户的 pending 凑整聚合成唯一一个批次
type BatchService struct {
	db        *gorm.DB
	collector *CollectorService
}

func NewBatchService(db *gorm.DB, collector *CollectorService) *BatchService {
	return &BatchService{
		db:        db,
		collector: collector,
	}
}

// CloseDuePeriods 定时任务入口: 给所有用户收口上一个归集周期
// 单个用户失败只记日志不中断，调度器重复触发由 CloseUserPeriod 的 guard 兜底
func (s *BatchService) CloseDuePeriods(ctx context.Context, now time.Time) (int, error) {
	var policies []model.UserPolicy
	if err := s.db.Find(&policies).Error; err != nil {
		return 0, fmt.Errorf("查询用户策略失败: %w", err)
	}

	closed := 0
	for _, policy := range policies {
		period := PreviousPeriod(policy.PeriodDays, now)
		batch, err := s.CloseUserPeriod(ctx, policy.UserID, period)
		if err != nil {
			if _, ok := err.(errno.Errno); ok {
				continue // 该周期已有批次，调度器重复触发，正常跳过
			}
			logger.Error("用户周期收口失败",
				zap.Uint64("user_id", policy.UserID),
				zap.Error(err))
			continue
		}
		if batch != nil {
			closed++
		}
	}
	return closed, nil
}

// CloseUserPeriod 给单个用户收口一个归集周期
// 步骤 1-5 在一个事务里: 先锁 user 行做并发串行化，guard 查重，选记录，
// 截断到月度上限，建批次并把消耗的记录置为 batched。
// 批次总额为 0 时不建批次。建完批次后交给 PaymentCollector 发起扣款。
func (s *BatchService) CloseUserPeriod(ctx context.Context, userID uint64, period Period) (*model.DonationBatch, error) {
	var batch *model.DonationBatch

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 并发收口串行化: 两个并发的收口 (或收口与 webhook 重放) 不能都成功
		var user model.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, userID).Error; err != nil {
			return fmt.Errorf("用户不存在: %w", err)
		}

		// guard: 该周期已存在非 failed 批次 -> 放弃，这是调度器重复触发
		var count int64
		if err := tx.Model(&model.DonationBatch{}).
			Where("user_id = ? AND period_start = ? AND period_end = ? AND status <> ?",
				userID, period.Start, period.End, model.BatchStatusFailed).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			// 竞态/重复触发，合法尝试已经成功过。记 error 级日志便于排查，不算业务失败。
			logger.Error("周期已存在非 failed 批次，放弃重复收口",
				zap.Uint64("user_id", userID),
				zap.Time("period_start", period.Start))
			return errno.ErrBatchExists
		}

		var policy model.UserPolicy
		if err := tx.Where("user_id = ?", userID).First(&policy).Error; err != nil {
			if err != gorm.ErrRecordNotFound {
				return err
			}
			policy = model.UserPolicy{UserID: userID, Multiplier: 1}
		}

		// 选该周期 (含上期结转) 的 pending 记录，按日期顺序消耗
		var records []model.RoundupRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status = ? AND transaction_date < ?",
				userID, model.RoundupStatusPending, period.End.AddDate(0, 0, 1)).
			Order("transaction_date ASC, id ASC").
			Find(&records).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		// 月度上限是周期总量限制: 总额截到上限，超出的部分保持 pending 滚入下期
		consumed, carry, total := applyCap(records, policy.MonthlyCap)
		if total.IsZero() {
			return nil
		}

		newBatch := model.DonationBatch{
			UserID:      userID,
			OrgID:       user.OrgID,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			TotalAmount: total,
			Status:      model.BatchStatusPending,
		}
		if err := tx.Create(&newBatch).Error; err != nil {
			return err
		}

		// 边界记录拆分: 放进批次的部分 + 结转回 pending 的余量
		if carry != nil {
			if err := tx.Model(&model.RoundupRecord{}).
				Where("id = ?", carry.originalID).
				Update("roundup_amount", carry.batchedAmount).Error; err != nil {
				return err
			}
			carryRecord := model.RoundupRecord{
				UserID:                userID,
				ConnectionID:          carry.connectionID,
				ExternalTransactionID: carry.externalID + ":carry",
				BaseAmount:            decimal.Zero,
				RoundupAmount:         carry.carryAmount,
				TransactionDate:       carry.transactionDate,
				Status:                model.RoundupStatusPending,
			}
			if err := tx.Create(&carryRecord).Error; err != nil {
				return err
			}
			if err := RecordAudit(tx, model.SubjectRoundupRecord, carry.originalID,
				"roundup_split_by_cap", model.RoundupStatusPending, model.RoundupStatusPending, ""); err != nil {
				return err
			}
		}

		consumedIDs := make([]uint64, len(consumed))
		for i, r := range consumed {
			consumedIDs[i] = r.ID
		}
		if err := tx.Model(&model.RoundupRecord{}).
			Where("id IN ?", consumedIDs).
			Updates(map[string]interface{}{
				"status":   model.RoundupStatusBatched,
				"batch_id": newBatch.ID,
			}).Error; err != nil {
			return err
		}

		if err := RecordAudit(tx, model.SubjectDonationBatch, newBatch.ID,
			"batch_created", "", model.BatchStatusPending, ""); err != nil {
			return err
		}

		monitor.Business.BatchCreatedTotal.Inc()
		batch = &newBatch
		return nil
	})
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil // 空周期不是失败
	}

	// 扣款在锁外发起: 外部调用不能持有行锁
	if s.collector != nil {
		if err := s.collector.Collect(ctx, batch.ID); err != nil {
			logger.Error("批次扣款发起失败",
				zap.Uint64("batch_id", batch.ID),
				zap.Error(err))
		}
	}
	return batch, nil
}

// releaseBatchRecords 批次扣款失败时把成员记录放回 pending
// 钱没有收到，记录随下一个周期的新批次重新归集; 与批次的 failed 迁移同一事务
func releaseBatchRecords(tx *gorm.DB, batchID uint64) error {
	return tx.Model(&model.RoundupRecord{}).
		Where("batch_id = ? AND status = ?", batchID, model.RoundupStatusBatched).
		Updates(map[string]interface{}{
			"status":   model.RoundupStatusPending,
			"batch_id": nil,
		}).Error
}

// capSplit 被上限截断的边界记录的拆分明细
type capSplit struct {
	originalID      uint64
	connectionID    uint64
	externalID      string
	transactionDate time.Time
	batchedAmount   decimal.Decimal // 放进本批次的部分
	carryAmount     decimal.Decimal // 结转下期的余量
}

// applyCap 按日期顺序消耗记录，总额截断到 cap
// cap <= 0 表示不设上限。跨过上限的那条记录被拆成两半:
// 原记录缩减为恰好填满 cap 的部分入批，余量生成 :carry 新记录保持 pending。
// 返回 (消耗的记录, 拆分明细或 nil, 批次总额)。
func applyCap(records []model.RoundupRecord, limit decimal.Decimal) ([]model.RoundupRecord, *capSplit, decimal.Decimal) {
	uncapped := limit.LessThanOrEqual(decimal.Zero)

	var consumed []model.RoundupRecord
	total := decimal.Zero
	for _, r := range records {
		if uncapped {
			consumed = append(consumed, r)
			total = total.Add(r.RoundupAmount)
			continue
		}

		remaining := limit.Sub(total)
		if remaining.LessThanOrEqual(decimal.Zero) {
			break // 上限已满，后面的记录全部留在 pending
		}

		if r.RoundupAmount.LessThanOrEqual(remaining) {
			consumed = append(consumed, r)
			total = total.Add(r.RoundupAmount)
			continue
		}

		// 边界记录: 拆分
		split := &capSplit{
			originalID:      r.ID,
			connectionID:    r.ConnectionID,
			externalID:      r.ExternalTransactionID,
			transactionDate: r.TransactionDate,
			batchedAmount:   remaining,
			carryAmount:     r.RoundupAmount.Sub(remaining),
		}
		r.RoundupAmount = remaining
		consumed = append(consumed, r)
		total = total.Add(remaining)
		return consumed, split, total
	}
	return consumed, nil, total
}
