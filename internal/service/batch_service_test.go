package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"roundup-core/internal/model"
)

func record(id uint64, amount string, day int) model.RoundupRecord {
	return model.RoundupRecord{
		ID:                    id,
		UserID:                1,
		ConnectionID:          1,
		ExternalTransactionID: "ext_" + string(rune('a'+id)),
		RoundupAmount:         decimal.RequireFromString(amount),
		TransactionDate:       time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		Status:                model.RoundupStatusPending,
	}
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyCapUncapped(t *testing.T) {
	records := []model.RoundupRecord{
		record(1, "0.65", 1),
		record(2, "0.35", 2),
	}

	consumed, split, total := applyCap(records, decimal.Zero)
	assert.Len(t, consumed, 2)
	assert.Nil(t, split)
	assert.True(t, amt("1.00").Equal(total))
}

// 待归集总额 $12、上限 $10: 批次总额恰好 $10.00，边界记录拆分，$2.00 留在 pending
func TestApplyCapTruncatesToExactCap(t *testing.T) {
	records := []model.RoundupRecord{
		record(1, "5.00", 1),
		record(2, "4.50", 2),
		record(3, "2.50", 3), // 跨过上限的边界记录
	}

	consumed, split, total := applyCap(records, amt("10.00"))
	assert.True(t, amt("10.00").Equal(total), "got %s", total)
	assert.Len(t, consumed, 3)

	if assert.NotNil(t, split) {
		assert.Equal(t, uint64(3), split.originalID)
		assert.True(t, amt("0.50").Equal(split.batchedAmount))
		assert.True(t, amt("2.00").Equal(split.carryAmount))
	}

	// 批次总额 == 成员金额之和 (含缩减后的边界记录)
	sum := decimal.Zero
	for _, r := range consumed {
		sum = sum.Add(r.RoundupAmount)
	}
	assert.True(t, total.Equal(sum))
}

// 恰好填满上限: 不拆分
func TestApplyCapExactFit(t *testing.T) {
	records := []model.RoundupRecord{
		record(1, "6.00", 1),
		record(2, "4.00", 2),
		record(3, "0.75", 3),
	}

	consumed, split, total := applyCap(records, amt("10.00"))
	assert.True(t, amt("10.00").Equal(total))
	assert.Nil(t, split)
	assert.Len(t, consumed, 2) // 第三条完整留在 pending
}

// 上限已被前面的记录占满: 后续记录原样留下
func TestApplyCapAlreadyFull(t *testing.T) {
	records := []model.RoundupRecord{
		record(1, "10.00", 1),
		record(2, "0.65", 2),
	}

	consumed, split, total := applyCap(records, amt("10.00"))
	assert.True(t, amt("10.00").Equal(total))
	assert.Nil(t, split)
	assert.Len(t, consumed, 1)
}

func TestChargeIdempotencyKeyDeterministic(t *testing.T) {
	assert.Equal(t, "donation_batch_42", ChargeIdempotencyKey(42))
	assert.Equal(t, ChargeIdempotencyKey(7), ChargeIdempotencyKey(7))
}
