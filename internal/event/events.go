package event

// 通知服务消费的 Outbox 事件。只管投递出去，核心从不等待投递结果。

// Outbox 主题
const (
	TopicDonationEvents = "donation_events"
	TopicPayoutEvents   = "payout_events"
)

// DonationCollectedEvent 批次扣款成功事件 ("donation confirmed")
// Topic: donation_events
type DonationCollectedEvent struct {
	BatchID     uint64 `json:"batch_id"`
	UserID      uint64 `json:"user_id"`
	OrgID       uint64 `json:"org_id"`
	TotalAmount string `json:"total_amount"` // Decimal string
	PeriodStart string `json:"period_start"` // YYYY-MM-DD
	PeriodEnd   string `json:"period_end"`
}

// PayoutSettledEvent 结算完成事件 ("payout settled")
// Topic: payout_events
type PayoutSettledEvent struct {
	PayoutID  uint64 `json:"payout_id"`
	OrgID     uint64 `json:"org_id"`
	NetAmount string `json:"net_amount"` // Decimal string
	PeriodEnd string `json:"period_end"`
}
