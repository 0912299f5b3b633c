package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"roundup-core/internal/client/bankfeed"
)

func tx(amount string, category string) bankfeed.Transaction {
	return bankfeed.Transaction{
		ExternalID: "tx_1",
		Amount:     decimal.RequireFromString(amount),
		Category:   category,
		Date:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestCalculateRoundup(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		multiplier int
		want       string
		wantOK     bool
	}{
		{"普通消费", "4.35", 1, "0.65", true},
		{"整数金额不产生凑整", "4.00", 1, "0", false},
		{"乘数生效", "4.35", 2, "1.30", true},
		{"三倍乘数", "19.01", 3, "2.97", true},
		{"一分钱边界", "9.99", 1, "0.01", true},
		{"非法乘数按 1 处理", "4.35", 0, "0.65", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CalculateRoundup(tx(tt.amount, "grocery"), tt.multiplier)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got),
				"want %s got %s", tt.want, got)
		})
	}
}

// 基础凑整 (乘数前) 必须落在 [0, 1)
func TestRoundupBound(t *testing.T) {
	amounts := []string{"0.01", "1.50", "4.35", "7.77", "100.99", "5.00"}
	for _, a := range amounts {
		got, ok := CalculateRoundup(tx(a, "grocery"), 1)
		if !ok {
			assert.True(t, got.IsZero())
			continue
		}
		assert.True(t, got.GreaterThanOrEqual(decimal.Zero), "amount %s", a)
		assert.True(t, got.LessThan(decimal.NewFromInt(1)), "amount %s", a)
	}
}

func TestEligible(t *testing.T) {
	assert.True(t, Eligible(tx("4.35", "grocery")))

	// 排除类目
	for _, cat := range []string{"transfer", "atm", "fee", "credit_repayment"} {
		assert.False(t, Eligible(tx("4.35", cat)), "category %s", cat)
	}

	// 入账 (退款) 不参与
	assert.False(t, Eligible(tx("-4.35", "grocery")))
	assert.False(t, Eligible(tx("0", "grocery")))

	// 未清算的交易不参与
	pending := tx("4.35", "grocery")
	pending.Pending = true
	assert.False(t, Eligible(pending))
}
