package model

import "time"

// WebhookEvent 外部事件去重表
// (provider, external_event_id) 唯一索引是 Webhook 幂等的关键:
// 重复投递在插入时撞索引，直接按"已处理"应答 2xx，不再进入业务逻辑
type WebhookEvent struct {
	ID              uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;uniqueIndex:idx_provider_event" json:"provider"` // bankfeed, payment
	ExternalEventID string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_provider_event" json:"external_event_id"`
	EventType       string     `gorm:"type:varchar(60);not null;index" json:"event_type"`
	Payload         []byte     `gorm:"type:text" json:"-"` // 原始报文留底，便于对账争议回放
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Webhook 事件来源
const (
	ProviderBankfeed = "bankfeed"
	ProviderPayment  = "payment"
)

// Webhook 事件类型
const (
	EventChargeSucceeded   = "charge.succeeded"
	EventChargeFailed      = "charge.failed"
	EventTransferPaid      = "transfer.paid"
	EventTransferFailed    = "transfer.failed"
	EventSyncAvailable     = "sync_available"
	EventItemError         = "item.error"
	EventItemRevoked       = "item.revoked"
)

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
