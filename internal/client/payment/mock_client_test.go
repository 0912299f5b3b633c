package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// 同一个幂等键重复请求必须折叠成一笔扣款
func TestMockChargeIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient()
	amount := decimal.RequireFromString("10.00")

	first, err := c.Charge(ctx, amount, "USD", "pm_123", "donation_batch_1")
	assert.NoError(t, err)
	assert.NotEmpty(t, first.ChargeRef)

	second, err := c.Charge(ctx, amount, "USD", "pm_123", "donation_batch_1")
	assert.NoError(t, err)
	assert.Equal(t, first.ChargeRef, second.ChargeRef)

	// 不同的键是另一笔扣款
	other, err := c.Charge(ctx, amount, "USD", "pm_123", "donation_batch_2")
	assert.NoError(t, err)
	assert.NotEqual(t, first.ChargeRef, other.ChargeRef)
}

func TestMockTransferIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient()
	amount := decimal.RequireFromString("97.50")

	first, err := c.Transfer(ctx, amount, "acct_9", "church_payout_1")
	assert.NoError(t, err)

	second, err := c.Transfer(ctx, amount, "acct_9", "church_payout_1")
	assert.NoError(t, err)
	assert.Equal(t, first.TransferRef, second.TransferRef)
}
