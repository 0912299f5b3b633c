package model

import "time"

// AuditEntry 审计流水表 (Append-Only)
// 每一次状态迁移写一条，记录前后状态；由外部事件触发的迁移携带 ExternalEventID，
// 用于排查"这个批次/结算为什么是这个状态"。写入后永不修改、永不删除。
type AuditEntry struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SubjectType     string    `gorm:"type:varchar(40);not null;index:idx_audit_subject" json:"subject_type"`
	SubjectID       uint64    `gorm:"not null;index:idx_audit_subject" json:"subject_id"`
	Action          string    `gorm:"type:varchar(60);not null" json:"action"`
	BeforeState     string    `gorm:"type:varchar(40)" json:"before_state"`
	AfterState      string    `gorm:"type:varchar(40)" json:"after_state"`
	ExternalEventID string    `gorm:"type:varchar(255);index" json:"external_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// 审计主体类型
const (
	SubjectBankConnection = "bank_connection"
	SubjectRoundupRecord  = "roundup_record"
	SubjectDonationBatch  = "donation_batch"
	SubjectChurchPayout   = "church_payout"
	SubjectCommission     = "referral_commission"
)

func (AuditEntry) TableName() string {
	return "audit_entries"
}
