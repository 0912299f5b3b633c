package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationBatch 捐赠批次表
// 核心不变量: 同一 (user_id, period_start, period_end) 最多只有一个非 failed 批次。
// failed 批次允许被新批次替代，所以不能用唯一索引兜底，
// 由 BatchService 在事务内先对 user 行加悲观锁再做 guard 查询来保证。
// TotalAmount == 所有成员 RoundupRecord.RoundupAmount 之和
type DonationBatch struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64          `gorm:"not null;index:idx_batch_period" json:"user_id"`
	OrgID       uint64          `gorm:"not null;index" json:"org_id"`
	PeriodStart time.Time       `gorm:"type:date;not null;index:idx_batch_period" json:"period_start"`
	PeriodEnd   time.Time       `gorm:"type:date;not null;index:idx_batch_period" json:"period_end"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Status      string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"` // pending, charging, collected, failed
	ChargeRef   string          `gorm:"type:varchar(255);index" json:"charge_ref"` // 支付渠道返回的 charge 引用
	FailReason  string          `gorm:"type:varchar(255)" json:"fail_reason,omitempty"`
	PayoutID    *uint64         `gorm:"index" json:"payout_id,omitempty"` // 结算后回填，一个批次只属于一个 Payout
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DonationBatch 状态
const (
	BatchStatusPending   = "pending"
	BatchStatusCharging  = "charging"
	BatchStatusCollected = "collected"
	BatchStatusFailed    = "failed"
)

// IsTerminal 批次是否处于终态 (终态不允许被后到的事件覆盖)
func (b *DonationBatch) IsTerminal() bool {
	return b.Status == BatchStatusCollected || b.Status == BatchStatusFailed
}

func (DonationBatch) TableName() string {
	return "donation_batches"
}
