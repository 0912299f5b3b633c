package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankConnection 银行连接表
// SyncCursor 是聚合器返回的不透明游标，只能单调前进，只有重新绑定时才会清空
type BankConnection struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         uint64     `gorm:"not null;index" json:"user_id"`
	ExternalItemID string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"external_item_id"`
	CredentialRef  string     `gorm:"type:varchar(255);not null" json:"-"` // 聚合器侧的访问凭证引用
	SyncCursor     string     `gorm:"type:varchar(512)" json:"sync_cursor"`
	Status         string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"` // active, error, revoked
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RoundupRecord 待归集的凑整记录表
// ExternalTransactionID 唯一索引是幂等的关键: 聚合器重复投递同一笔交易时不会产生第二条记录
type RoundupRecord struct {
	ID                    uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID                uint64          `gorm:"not null;index:idx_user_status" json:"user_id"`
	ConnectionID          uint64          `gorm:"not null;index" json:"connection_id"`
	ExternalTransactionID string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"external_transaction_id"`
	BaseAmount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"base_amount"`    // 原始消费金额
	RoundupAmount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"roundup_amount"` // 已乘过 Multiplier
	TransactionDate       time.Time       `gorm:"not null;index" json:"transaction_date"`
	Status                string          `gorm:"type:varchar(20);not null;default:'pending';index:idx_user_status" json:"status"` // pending, batched, voided
	BatchID               *uint64         `gorm:"index" json:"batch_id,omitempty"` // 入批后回填，入批即不可变
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// RoundupRecord 状态
const (
	RoundupStatusPending = "pending"
	RoundupStatusBatched = "batched"
	RoundupStatusVoided  = "voided"
)

// BankConnection 状态
const (
	ConnectionStatusActive  = "active"
	ConnectionStatusError   = "error"
	ConnectionStatusRevoked = "revoked"
)

func (BankConnection) TableName() string {
	return "bank_connections"
}

func (RoundupRecord) TableName() string {
	return "roundup_records"
}
