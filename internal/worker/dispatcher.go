package worker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"roundup-core/internal/event"
	"roundup-core/internal/service/mq"
	"roundup-core/internal/worker/tasks"
	"roundup-core/pkg/logger"
)

// NotifyDispatcher 消费 Outbox 事件并转成通知任务
// MQ 是 at-least-once，asynq 入队即成功；同一事件重复入队由通知服务自身幂等兜底
type NotifyDispatcher struct {
	consumer mq.Consumer
	client   *Client
}

func NewNotifyDispatcher(consumer mq.Consumer, client *Client) *NotifyDispatcher {
	return &NotifyDispatcher{
		consumer: consumer,
		client:   client,
	}
}

// Start 订阅两个事件主题 (阻塞在 Subscribe 内部的消费循环)
func (d *NotifyDispatcher) Start(ctx context.Context) {
	go d.subscribe(ctx, event.TopicDonationEvents, d.handleDonation)
	go d.subscribe(ctx, event.TopicPayoutEvents, d.handlePayout)
}

func (d *NotifyDispatcher) subscribe(ctx context.Context, topic string, handler func(msg *mq.Message) error) {
	if err := d.consumer.Subscribe(ctx, topic, handler); err != nil {
		logger.Error("事件订阅退出", zap.String("topic", topic), zap.Error(err))
	}
}

func (d *NotifyDispatcher) handleDonation(msg *mq.Message) error {
	var evt event.DonationCollectedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		logger.Error("donation 事件解析失败，丢弃", zap.String("msg_id", msg.ID), zap.Error(err))
		return nil // 解析失败重试也没用
	}
	task, err := tasks.NewDonationNotifyTask(&evt)
	if err != nil {
		return err
	}
	_, err = d.client.Enqueue(task)
	return err
}

func (d *NotifyDispatcher) handlePayout(msg *mq.Message) error {
	var evt event.PayoutSettledEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		logger.Error("payout 事件解析失败，丢弃", zap.String("msg_id", msg.ID), zap.Error(err))
		return nil
	}
	task, err := tasks.NewPayoutNotifyTask(&evt)
	if err != nil {
		return err
	}
	_, err = d.client.Enqueue(task)
	return err
}
