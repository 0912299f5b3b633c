package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User 捐赠用户表
type User struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Email            string         `gorm:"type:varchar(255);not null;unique" json:"email"`
	OrgID            uint64         `gorm:"not null;index" json:"org_id"` // 用户选定的受捐机构
	PaymentMethodRef string         `gorm:"type:varchar(255);not null" json:"-"` // 支付渠道侧的卡引用
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// UserPolicy 用户的凑整策略表
// 核心设计: Multiplier 在计算凑整时生效 (multiply-then-cap)，MonthlyCap 在聚合成批次时生效
type UserPolicy struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint64          `gorm:"not null;unique" json:"user_id"`
	Multiplier int             `gorm:"not null;default:1" json:"multiplier"` // 1x, 2x, 3x
	MonthlyCap decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"monthly_cap"` // 0 表示不设上限
	PeriodDays int             `gorm:"not null;default:14" json:"period_days"` // 归集周期长度 (双周=14, 月=30)
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Organization 受捐机构表
// KYC 资格由外部 Document/KYC 服务判定，本核心只读不写
type Organization struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string         `gorm:"type:varchar(255);not null" json:"name"`
	AccountRef string         `gorm:"type:varchar(255);not null" json:"-"` // 支付渠道侧的收款账户引用
	Status     string         `gorm:"type:varchar(20);not null;default:'active'" json:"status"` // active, suspended
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// Referral 机构间的推荐关系表
// 佣金窗口: 从 ActivatedAt 起 WindowDays 天内完成的 Payout 才计提佣金
type Referral struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferringOrgID uint64    `gorm:"not null;index" json:"referring_org_id"`
	ReferredOrgID  uint64    `gorm:"not null;uniqueIndex" json:"referred_org_id"` // 每个机构最多被推荐一次
	ActivatedAt    time.Time `gorm:"not null" json:"activated_at"`
	WindowDays     int       `gorm:"not null;default:365" json:"window_days"`
	CreatedAt      time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

func (UserPolicy) TableName() string {
	return "user_policies"
}

func (Organization) TableName() string {
	return "organizations"
}

func (Referral) TableName() string {
	return "referrals"
}
