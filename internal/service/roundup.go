package service

import (
	"github.com/shopspring/decimal"

	"roundup-core/internal/client/bankfeed"
)

// 不产生凑整的交易类目: 转账、取现、手续费、还款
var excludedCategories = map[string]struct{}{
	"transfer":         {},
	"atm":              {},
	"fee":              {},
	"credit_repayment": {},
}

// Eligible 判断一笔交易是否参与凑整
// 只有借记 (Amount > 0, 钱离开账户) 且不在排除类目、已清算的交易才参与
func Eligible(tx bankfeed.Transaction) bool {
	if tx.Pending {
		return false
	}
	if !tx.Amount.IsPositive() {
		return false
	}
	_, excluded := excludedCategories[tx.Category]
	return !excluded
}

// CalculateRoundup 纯函数: 计算一笔交易的凑整金额
// 基础凑整 = ceil(amount) - amount，落在 [0, 1)；整数金额凑整为 0，不生成记录。
// 乘数在这里生效 (multiply-then-cap)；月度上限是周期总量限制，在入批时截断。
// 金额全程用 decimal 定点运算，浮点取模在整数边界附近不可靠，不能用。
func CalculateRoundup(tx bankfeed.Transaction, multiplier int) (decimal.Decimal, bool) {
	if !Eligible(tx) {
		return decimal.Zero, false
	}

	base := tx.Amount.Ceil().Sub(tx.Amount)
	if base.IsZero() {
		// 记录了这笔交易，但整数金额不产生凑整
		return decimal.Zero, false
	}

	if multiplier < 1 {
		multiplier = 1
	}
	return base.Mul(decimal.NewFromInt(int64(multiplier))), true
}
