package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roundup-core/internal/event"
	"roundup-core/internal/model"
	"roundup-core/pkg/errno"
	"roundup-core/pkg/logger"
	"roundup-core/pkg/monitor"
)

// inboundEnvelope 两个供应商共用的事件信封
type inboundEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ChargeRef   string `json:"charge_ref"`
		TransferRef string `json:"transfer_ref"`
		ItemID      string `json:"item_id"`
		FailReason  string `json:"fail_reason"`
	} `json:"data"`
}

// WebhookService 对账入口: 批次和 Payout 的终态只由这里写入
// 幂等三层: (provider, event_id) 去重插入、终态不覆盖、迁移与去重同一事务。
// 重复事件和迟到事件都应答成功，返回 error 才会让供应商重投。
type WebhookService struct {
	db       *gorm.DB
	bankSync *BankSyncService
	referral *ReferralService
	trigger  SyncTrigger
}

func NewWebhookService(db *gorm.DB, bankSync *BankSyncService, referral *ReferralService, trigger SyncTrigger) *WebhookService {
	return &WebhookService{
		db:       db,
		bankSync: bankSync,
		referral: referral,
		trigger:  trigger,
	}
}

// Process 处理一条已验签的 Webhook 报文
func (s *WebhookService) Process(ctx context.Context, provider string, body []byte) error {
	var env inboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errno.ErrWebhookPayload
	}
	if env.ID == "" || env.Type == "" {
		return errno.ErrWebhookPayload
	}

	// sideEffect 在事务提交后执行 (触发异步 sync 这类不依赖本事务的动作)
	var sideEffect func()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		evt := model.WebhookEvent{
			Provider:        provider,
			ExternalEventID: env.ID,
			EventType:       env.Type,
			Payload:         body,
			ProcessedAt:     &now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_event_id"}},
			DoNothing: true,
		}).Create(&evt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 重复投递: 首次处理已生效或正在生效，直接确认
			monitor.Business.WebhookEventsTotal.WithLabelValues(provider, "duplicate").Inc()
			return nil
		}

		switch env.Type {
		case model.EventChargeSucceeded:
			return s.applyChargeResult(tx, &env, true)
		case model.EventChargeFailed:
			return s.applyChargeResult(tx, &env, false)
		case model.EventTransferPaid:
			return s.applyTransferResult(tx, &env, true)
		case model.EventTransferFailed:
			return s.applyTransferResult(tx, &env, false)
		case model.EventSyncAvailable, model.EventItemError, model.EventItemRevoked:
			sideEffect = s.bankfeedSideEffect(ctx, &env)
			return nil
		default:
			// 未知事件类型: 留底确认，不报错，避免供应商无限重投
			logger.Warn("未识别的 Webhook 事件类型",
				zap.String("provider", provider), zap.String("type", env.Type))
			monitor.Business.WebhookEventsTotal.WithLabelValues(provider, "ignored").Inc()
			return nil
		}
	})
	if err != nil {
		return err
	}
	if sideEffect != nil {
		sideEffect()
	}
	return nil
}

// applyChargeResult charge.* 事件驱动批次终局
func (s *WebhookService) applyChargeResult(tx *gorm.DB, env *inboundEnvelope, succeeded bool) error {
	if env.Data.ChargeRef == "" {
		return errno.ErrWebhookPayload
	}

	var batch model.DonationBatch
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("charge_ref = ?", env.Data.ChargeRef).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// charge_ref 尚未落库 (Collect 的写入还没提交)，回滚让供应商稍后重投
		return fmt.Errorf("批次未找到 charge_ref=%s", env.Data.ChargeRef)
	}
	if err != nil {
		return err
	}

	if batch.IsTerminal() {
		// 迟到或乱序的事件，终态不覆盖
		logger.Warn("批次已终局，忽略后到事件",
			zap.Uint64("batch_id", batch.ID),
			zap.String("status", batch.Status),
			zap.String("event_id", env.ID))
		monitor.Business.WebhookEventsTotal.WithLabelValues(model.ProviderPayment, "stale").Inc()
		return nil
	}

	before := batch.Status
	updates := map[string]interface{}{}
	if succeeded {
		updates["status"] = model.BatchStatusCollected
		updates["fail_reason"] = ""
	} else {
		updates["status"] = model.BatchStatusFailed
		updates["fail_reason"] = failReasonOr(env.Data.FailReason, "charge_failed")
	}
	if err := tx.Model(&batch).Updates(updates).Error; err != nil {
		return err
	}

	after := updates["status"].(string)
	if err := RecordAudit(tx, model.SubjectDonationBatch, batch.ID,
		"charge_"+resultWord(succeeded), before, after, env.ID); err != nil {
		return err
	}

	if succeeded {
		if err := model.CreateOutboxMessage(tx, event.TopicDonationEvents,
			fmt.Sprintf("user:%d", batch.UserID),
			event.DonationCollectedEvent{
				BatchID:     batch.ID,
				UserID:      batch.UserID,
				OrgID:       batch.OrgID,
				TotalAmount: batch.TotalAmount.StringFixed(2),
				PeriodStart: batch.PeriodStart.Format("2006-01-02"),
				PeriodEnd:   batch.PeriodEnd.Format("2006-01-02"),
			}); err != nil {
			return err
		}
		monitor.Business.BatchChargedTotal.WithLabelValues("collected").Inc()
	} else {
		// 扣款失败: 成员记录放回 pending，下个周期的新批次重新归集
		if err := releaseBatchRecords(tx, batch.ID); err != nil {
			return err
		}
		monitor.Business.BatchChargedTotal.WithLabelValues("failed").Inc()
	}
	monitor.Business.WebhookEventsTotal.WithLabelValues(model.ProviderPayment, "applied").Inc()
	return nil
}

// applyTransferResult transfer.* 事件驱动 Payout 终局
func (s *WebhookService) applyTransferResult(tx *gorm.DB, env *inboundEnvelope, paid bool) error {
	if env.Data.TransferRef == "" {
		return errno.ErrWebhookPayload
	}

	var payout model.ChurchPayout
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transfer_ref = ?", env.Data.TransferRef).First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("payout 未找到 transfer_ref=%s", env.Data.TransferRef)
	}
	if err != nil {
		return err
	}

	if payout.IsTerminal() {
		logger.Warn("payout 已终局，忽略后到事件",
			zap.Uint64("payout_id", payout.ID),
			zap.String("status", payout.Status),
			zap.String("event_id", env.ID))
		monitor.Business.WebhookEventsTotal.WithLabelValues(model.ProviderPayment, "stale").Inc()
		return nil
	}

	before := payout.Status
	updates := map[string]interface{}{}
	if paid {
		updates["status"] = model.PayoutStatusCompleted
		updates["fail_reason"] = ""
	} else {
		updates["status"] = model.PayoutStatusFailed
		updates["fail_reason"] = failReasonOr(env.Data.FailReason, model.PayoutFailReasonTransfer)
	}
	if err := tx.Model(&payout).Updates(updates).Error; err != nil {
		return err
	}

	after := updates["status"].(string)
	if err := RecordAudit(tx, model.SubjectChurchPayout, payout.ID,
		"transfer_"+resultWord(paid), before, after, env.ID); err != nil {
		return err
	}

	if paid {
		payout.Status = model.PayoutStatusCompleted
		if err := s.referral.AccrueForPayout(tx, &payout, env.ID); err != nil {
			return err
		}
		if err := model.CreateOutboxMessage(tx, event.TopicPayoutEvents,
			fmt.Sprintf("org:%d", payout.OrgID),
			event.PayoutSettledEvent{
				PayoutID:  payout.ID,
				OrgID:     payout.OrgID,
				NetAmount: payout.NetAmount.StringFixed(2),
				PeriodEnd: payout.PeriodEnd.Format("2006-01-02"),
			}); err != nil {
			return err
		}
		monitor.Business.PayoutSettledTotal.WithLabelValues("completed").Inc()
	} else {
		monitor.Business.PayoutSettledTotal.WithLabelValues("failed").Inc()
	}
	monitor.Business.WebhookEventsTotal.WithLabelValues(model.ProviderPayment, "applied").Inc()
	return nil
}

// bankfeedSideEffect 银行侧事件的提交后动作
// sync 触发和连接状态迁移各自成事务，丢失由小时级 sweep 兜底补偿
func (s *WebhookService) bankfeedSideEffect(ctx context.Context, env *inboundEnvelope) func() {
	envType := env.Type
	itemID := env.Data.ItemID
	eventID := env.ID
	return func() {
		monitor.Business.WebhookEventsTotal.WithLabelValues(model.ProviderBankfeed, "applied").Inc()
		switch envType {
		case model.EventSyncAvailable:
			var conn model.BankConnection
			if err := s.db.Where("external_item_id = ?", itemID).First(&conn).Error; err != nil {
				logger.Warn("sync_available 指向未知连接", zap.String("item_id", itemID))
				return
			}
			if err := s.trigger.TriggerSync(ctx, conn.ID); err != nil {
				logger.Error("触发异步 sync 失败", zap.Uint64("connection_id", conn.ID), zap.Error(err))
			}
		case model.EventItemError:
			if err := s.bankSync.MarkConnectionStatus(ctx, itemID, model.ConnectionStatusError, eventID); err != nil {
				logger.Error("item.error 处理失败", zap.String("item_id", itemID), zap.Error(err))
			}
		case model.EventItemRevoked:
			if err := s.bankSync.MarkConnectionStatus(ctx, itemID, model.ConnectionStatusRevoked, eventID); err != nil {
				logger.Error("item.revoked 处理失败", zap.String("item_id", itemID), zap.Error(err))
			}
		}
	}
}

func failReasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

func resultWord(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}
