package bankfeed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction 聚合器侧的一笔银行流水
// Amount 为正表示借记 (钱离开账户)，为负表示贷记 (退款/入账)
type Transaction struct {
	ExternalID string          `json:"transaction_id"`
	Amount     decimal.Decimal `json:"amount"`
	Category   string          `json:"category"` // transfer, atm, fee, credit_repayment, grocery...
	Merchant   string          `json:"merchant"`
	Date       time.Time       `json:"date"`
	Pending    bool            `json:"pending"` // 未清算的交易不产生凑整
}

// SyncPage 一页游标同步结果
// HasMore=true 时必须继续用 NextCursor 拉下一页，直到 HasMore=false
type SyncPage struct {
	Added      []Transaction `json:"added"`
	Modified   []Transaction `json:"modified"`
	RemovedIDs []string      `json:"removed_ids"`
	NextCursor string        `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

// Client 银行数据聚合器客户端
// 按进程显式构造注入，不做包级单例，方便测试替身
type Client interface {
	// Sync 游标拉取。cursor 为空表示从头拉取 (新连接)。
	Sync(ctx context.Context, credentialRef, cursor string, pageSize int) (*SyncPage, error)
}
