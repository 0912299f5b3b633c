package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name    string
		gross   string
		percent string
		fee     string
		net     string
	}{
		{"百分之 2.5", "100.00", "2.5", "2.50", "97.50"},
		{"费率为 0", "100.00", "0", "0.00", "100.00"},
		{"四舍五入到分", "33.33", "2.5", "0.83", "32.50"},
		{"小额", "0.65", "2.5", "0.02", "0.63"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, net := SplitFee(decimal.RequireFromString(tt.gross), decimal.RequireFromString(tt.percent))
			assert.True(t, decimal.RequireFromString(tt.fee).Equal(fee), "fee: want %s got %s", tt.fee, fee)
			assert.True(t, decimal.RequireFromString(tt.net).Equal(net), "net: want %s got %s", tt.net, net)
			// net + fee == gross，一分钱都不能丢
			assert.True(t, decimal.RequireFromString(tt.gross).Equal(fee.Add(net)))
		})
	}
}

func TestTransferIdempotencyKeyDeterministic(t *testing.T) {
	assert.Equal(t, "church_payout_9", TransferIdempotencyKey(9))
	assert.Equal(t, TransferIdempotencyKey(3), TransferIdempotencyKey(3))
}

func TestCommissionWindow(t *testing.T) {
	activated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 窗口内
	assert.True(t, windowCovers(activated, 365, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)))
	// 恰好窗口最后一天
	assert.True(t, windowCovers(activated, 365, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
	// 窗口外
	assert.False(t, windowCovers(activated, 365, time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC)))
	// 短窗口
	assert.False(t, windowCovers(activated, 30, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}
