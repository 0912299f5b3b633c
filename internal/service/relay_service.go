package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"roundup-core/internal/model"
	"roundup-core/internal/service/mq"
	"roundup-core/pkg/logger"
)

// RelayService 负责将本地消息表的消息搬运到 MQ (通知服务在下游消费)
// 发送成功才置 SENT，更新失败下次还会发 => at-least-once，消费端做幂等
type RelayService struct {
	db       *gorm.DB
	producer mq.Producer
	interval time.Duration
}

func NewRelayService(db *gorm.DB, producer mq.Producer) *RelayService {
	return &RelayService{
		db:       db,
		producer: producer,
		interval: 500 * time.Millisecond,
	}
}

func (s *RelayService) Start(ctx context.Context) {
	logger.Info("消息中继服务启动")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("消息中继服务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *RelayService) processPendingMessages(ctx context.Context) {
	// 每次取 50 条，避免内存爆炸
	var messages []model.OutboxMessage
	if err := s.db.Where("status = ?", "PENDING").
		Order("id ASC").Limit(50).Find(&messages).Error; err != nil {
		logger.Error("查询 Outbox 消息失败", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	for _, msg := range messages {
		// Key 是分区键 (user:<id> / org:<id>)，同一主体的事件落同一分区保序
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Error("Outbox 消息投递失败",
				zap.Uint64("message_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Error(err))
			continue
		}

		if err := s.db.Model(&msg).Update("status", "SENT").Error; err != nil {
			logger.Error("Outbox 状态更新失败", zap.Uint64("message_id", msg.ID), zap.Error(err))
		}
	}
}
