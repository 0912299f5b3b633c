package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChurchPayout 机构结算表
// 不变量: NetAmount = GrossAmount - PlatformFee；
// GrossAmount == 所有成员批次 TotalAmount 之和；批次入账后不可变
type ChurchPayout struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrgID       uint64          `gorm:"not null;index:idx_payout_period" json:"org_id"`
	PeriodStart time.Time       `gorm:"type:date;not null;index:idx_payout_period" json:"period_start"`
	PeriodEnd   time.Time       `gorm:"type:date;not null;index:idx_payout_period" json:"period_end"`
	GrossAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"gross_amount"`
	PlatformFee decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"platform_fee"`
	NetAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"net_amount"`
	Status      string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"` // pending, transferring, completed, failed
	TransferRef string          `gorm:"type:varchar(255);index" json:"transfer_ref"`
	FailReason  string          `gorm:"type:varchar(255)" json:"fail_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ChurchPayout 状态
const (
	PayoutStatusPending      = "pending"
	PayoutStatusTransferring = "transferring"
	PayoutStatusCompleted    = "completed"
	PayoutStatusFailed       = "failed"
)

// Payout 失败原因码
const (
	PayoutFailReasonKYC      = "kyc_ineligible"
	PayoutFailReasonTransfer = "transfer_failed"
)

// IsTerminal Payout 是否处于终态
func (p *ChurchPayout) IsTerminal() bool {
	return p.Status == PayoutStatusCompleted || p.Status == PayoutStatusFailed
}

// ReferralCommission 推荐佣金计提表
// PayoutID 唯一索引保证每个 Payout 最多计提一次佣金
type ReferralCommission struct {
	ID               uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferringOrgID   uint64          `gorm:"not null;index" json:"referring_org_id"`
	ReferredOrgID    uint64          `gorm:"not null;index" json:"referred_org_id"`
	PayoutID         uint64          `gorm:"not null;uniqueIndex" json:"payout_id"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"commission_amount"`
	Status           string          `gorm:"type:varchar(20);not null;default:'accrued'" json:"status"` // accrued, paid
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ReferralCommission 状态
const (
	CommissionStatusAccrued = "accrued"
	CommissionStatusPaid    = "paid"
)

func (ChurchPayout) TableName() string {
	return "church_payouts"
}

func (ReferralCommission) TableName() string {
	return "referral_commissions"
}
