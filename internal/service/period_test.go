package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCurrentPeriodMonthly(t *testing.T) {
	p := CurrentPeriod(30, date(2026, 3, 10))
	assert.Equal(t, date(2026, 3, 1), p.Start)
	assert.Equal(t, date(2026, 3, 31), p.End)

	// 二月
	p = CurrentPeriod(30, date(2026, 2, 28))
	assert.Equal(t, date(2026, 2, 1), p.Start)
	assert.Equal(t, date(2026, 2, 28), p.End)
}

func TestCurrentPeriodBiweekly(t *testing.T) {
	p := CurrentPeriod(14, date(2026, 3, 10))
	assert.Equal(t, date(2026, 3, 1), p.Start)
	assert.Equal(t, date(2026, 3, 15), p.End)

	p = CurrentPeriod(14, date(2026, 3, 16))
	assert.Equal(t, date(2026, 3, 16), p.Start)
	assert.Equal(t, date(2026, 3, 31), p.End)

	// 月末
	p = CurrentPeriod(14, date(2026, 3, 31))
	assert.Equal(t, date(2026, 3, 16), p.Start)
}

func TestPreviousPeriod(t *testing.T) {
	// 下半月的上一个周期是上半月
	p := PreviousPeriod(14, date(2026, 3, 20))
	assert.Equal(t, date(2026, 3, 1), p.Start)
	assert.Equal(t, date(2026, 3, 15), p.End)

	// 上半月的上一个周期跨月
	p = PreviousPeriod(14, date(2026, 3, 10))
	assert.Equal(t, date(2026, 2, 16), p.Start)
	assert.Equal(t, date(2026, 2, 28), p.End)

	// 自然月跨年
	p = PreviousPeriod(30, date(2026, 1, 5))
	assert.Equal(t, date(2025, 12, 1), p.Start)
	assert.Equal(t, date(2025, 12, 31), p.End)
}

func TestPeriodContains(t *testing.T) {
	p := CurrentPeriod(14, date(2026, 3, 10))
	assert.True(t, p.Contains(date(2026, 3, 1)))
	assert.True(t, p.Contains(date(2026, 3, 15)))
	assert.True(t, p.Contains(time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)))
	assert.False(t, p.Contains(date(2026, 3, 16)))
	assert.False(t, p.Contains(date(2026, 2, 28)))
}
