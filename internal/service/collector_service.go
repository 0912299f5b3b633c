package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"roundup-core/internal/client"
	"roundup-core/internal/client/payment"
	"roundup-core/internal/model"
	"roundup-core/pkg/logger"
	"roundup-core/pkg/monitor"
)

const (
	chargeMaxAttempts = 3
	chargeBaseBackoff = time.Second
)

// CollectorService 负责对批次发起扣款
// 幂等键从批次 ID 确定性派生，不随机生成: 超时重试同一个键在渠道侧折叠为一笔扣款。
// 同步应答不是终局，最终结清只认 WebhookReconciler 的 charge.* 事件。
type CollectorService struct {
	db       *gorm.DB
	client   payment.Client
	currency string
}

func NewCollectorService(db *gorm.DB, c payment.Client, currency string) *CollectorService {
	return &CollectorService{
		db:       db,
		client:   c,
		currency: currency,
	}
}

// ChargeIdempotencyKey 批次扣款的确定性幂等键
func ChargeIdempotencyKey(batchID uint64) string {
	return fmt.Sprintf("donation_batch_%d", batchID)
}

// Collect 对一个 pending 批次发起扣款
// 锁只包住本地状态迁移，不包外部调用: 渠道挂死不能拖住行锁，
// 外部结果通过后续单独加锁的迁移 (webhook 或失败落库) 消化。
func (s *CollectorService) Collect(ctx context.Context, batchID uint64) error {
	var batch model.DonationBatch
	if err := s.db.First(&batch, batchID).Error; err != nil {
		return fmt.Errorf("批次不存在: %w", err)
	}

	// 卡引用在 CAS 之前解析。占住 charging 之后只剩外部调用一条路，
	// 任何本地失败都必须以 failBatch 收尾，不许把批次晾在 charging。
	var instrumentRef string
	{
		var user model.User
		err := s.db.First(&user, batch.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 用户被注销，扣款永远发不出去，批次直接终局
			return s.failBatch(&batch, model.BatchStatusPending, "instrument_unresolved", err)
		}
		if err != nil {
			return fmt.Errorf("用户查询失败: %w", err) // 批次仍是 pending，可重试
		}
		instrumentRef = user.PaymentMethodRef
	}

	// 迁移 1 (本地, CAS): pending -> charging。只有恰好一个调用者能赢。
	res := s.db.Model(&model.DonationBatch{}).
		Where("id = ? AND status = ?", batchID, model.BatchStatusPending).
		Update("status", model.BatchStatusCharging)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 已在扣款中或已终局，重复触发是 no-op
		logger.Debug("批次不在 pending 状态，跳过扣款", zap.Uint64("batch_id", batchID))
		return nil
	}
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		return RecordAudit(tx, model.SubjectDonationBatch, batchID,
			"charge_submitting", model.BatchStatusPending, model.BatchStatusCharging, "")
	}); err != nil {
		return s.failBatch(&batch, model.BatchStatusCharging, "charge_submit_failed", err)
	}

	// 外部调用 (无锁): 有界退避重试，只重试 Transient 错误
	result, err := s.chargeWithRetry(ctx, &batch, instrumentRef)
	if err != nil {
		// 重试耗尽或永久错误 -> 批次 failed，绝不让它永远停在 charging
		return s.failBatch(&batch, model.BatchStatusCharging, "charge_submit_failed", err)
	}

	// 迁移 2 (本地): 落 charge_ref。同步 failed 直接终局；
	// succeeded/pending 都停在 charging 等 webhook。
	if result.Status == payment.StatusFailed {
		return s.failBatch(&batch, model.BatchStatusCharging, "charge_declined", nil)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.DonationBatch{}).
			Where("id = ? AND status = ?", batchID, model.BatchStatusCharging).
			Update("charge_ref", result.ChargeRef).Error; err != nil {
			return err
		}
		return RecordAudit(tx, model.SubjectDonationBatch, batchID,
			"charge_submitted", model.BatchStatusCharging, model.BatchStatusCharging, "")
	})
}

func (s *CollectorService) chargeWithRetry(ctx context.Context, batch *model.DonationBatch, instrumentRef string) (*payment.ChargeResult, error) {
	key := ChargeIdempotencyKey(batch.ID)
	var lastErr error
	backoff := chargeBaseBackoff
	for attempt := 1; attempt <= chargeMaxAttempts; attempt++ {
		result, err := s.client.Charge(ctx, batch.TotalAmount, s.currency, instrumentRef, key)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !client.IsTransient(err) {
			return nil, err
		}
		logger.Error("扣款请求失败，准备重试",
			zap.Uint64("batch_id", batch.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("扣款重试耗尽: %w", lastErr)
}

func (s *CollectorService) failBatch(batch *model.DonationBatch, fromStatus, reason string, cause error) error {
	logger.Error("批次扣款失败",
		zap.Uint64("batch_id", batch.ID),
		zap.String("reason", reason),
		zap.Error(cause))
	monitor.Business.BatchChargedTotal.WithLabelValues("failed").Inc()

	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.DonationBatch{}).
			Where("id = ? AND status = ?", batch.ID, fromStatus).
			Updates(map[string]interface{}{
				"status":      model.BatchStatusFailed,
				"fail_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // webhook 抢先终局了，终态不覆盖
		}
		// 钱没有收到，成员记录放回 pending 随下个周期重新归集
		if err := releaseBatchRecords(tx, batch.ID); err != nil {
			return err
		}
		return RecordAudit(tx, model.SubjectDonationBatch, batch.ID,
			"charge_failed", fromStatus, model.BatchStatusFailed, "")
	})
}
