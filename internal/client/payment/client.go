package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// 渠道侧的同步应答状态。注意 succeeded 也只是受理结果，
// 最终结清只认 webhook (charge.succeeded / transfer.paid)。
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// ChargeResult 扣款请求的同步应答
type ChargeResult struct {
	ChargeRef string `json:"charge_ref"`
	Status    string `json:"status"`
}

// TransferResult 转账请求的同步应答
type TransferResult struct {
	TransferRef string `json:"transfer_ref"`
	Status      string `json:"status"`
}

// Client 支付处理器客户端
// 每个请求必须携带确定性幂等键 (从 batch/payout ID 派生，不允许随机生成)，
// 超时后重试同一个键不会产生第二笔扣款/转账
type Client interface {
	Charge(ctx context.Context, amount decimal.Decimal, currency, instrumentRef, idempotencyKey string) (*ChargeResult, error)
	Transfer(ctx context.Context, amount decimal.Decimal, destinationRef, idempotencyKey string) (*TransferResult, error)
}
