package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"roundup-core/internal/event"
	"roundup-core/pkg/logger"
)

// 通知任务: 把 Outbox 事件转成对通知服务的 fire-and-forget 投递
// 核心从不等待投递结果，失败靠 asynq 重试
const (
	TypeNotifyDonation = "notify:donation_collected"
	TypeNotifyPayout   = "notify:payout_settled"
)

// NewDonationNotifyTask 扣款成功通知 ("donation confirmed")
func NewDonationNotifyTask(evt *event.DonationCollectedEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotifyDonation, payload,
		asynq.MaxRetry(5), asynq.Timeout(time.Minute), asynq.Queue("low")), nil
}

// NewPayoutNotifyTask 结算完成通知 ("payout settled")
func NewPayoutNotifyTask(evt *event.PayoutSettledEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotifyPayout, payload,
		asynq.MaxRetry(5), asynq.Timeout(time.Minute), asynq.Queue("low")), nil
}

// HandleDonationNotifyTask 投递扣款成功通知
// 通知服务未接入时仅留日志 (模拟模式)
func HandleDonationNotifyTask(ctx context.Context, t *asynq.Task) error {
	var evt event.DonationCollectedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info("投递 donation confirmed 通知",
		zap.Uint64("user_id", evt.UserID),
		zap.Uint64("batch_id", evt.BatchID),
		zap.String("amount", evt.TotalAmount))
	return nil
}

// HandlePayoutNotifyTask 投递结算完成通知
func HandlePayoutNotifyTask(ctx context.Context, t *asynq.Task) error {
	var evt event.PayoutSettledEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info("投递 payout settled 通知",
		zap.Uint64("org_id", evt.OrgID),
		zap.Uint64("payout_id", evt.PayoutID),
		zap.String("net_amount", evt.NetAmount))
	return nil
}
