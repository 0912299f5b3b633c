package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"roundup-core/pkg/cache"
)

// countingChecker 记录真实检查被调用的次数
type countingChecker struct {
	inner *StaticEligibilityChecker
	calls int
}

func (c *countingChecker) IsEligible(ctx context.Context, orgID uint64) (bool, error) {
	c.calls++
	return c.inner.IsEligible(ctx, orgID)
}

func TestCachedEligibilityChecker(t *testing.T) {
	ctx := context.Background()
	inner := &countingChecker{inner: NewStaticEligibilityChecker()}
	inner.inner.Ineligible[2] = struct{}{}

	checker := NewCachedEligibilityChecker(inner, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute)

	ok, err := checker.IsEligible(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, ok)

	// 第二次命中缓存，不打外部服务
	ok, _ = checker.IsEligible(ctx, 1)
	assert.True(t, ok)
	assert.Equal(t, 1, inner.calls)

	// 不合格的结果同样被缓存
	ok, _ = checker.IsEligible(ctx, 2)
	assert.False(t, ok)
	ok, _ = checker.IsEligible(ctx, 2)
	assert.False(t, ok)
	assert.Equal(t, 2, inner.calls)

	// 主动失效后重新检查
	checker.Invalidate(ctx, 1)
	_, _ = checker.IsEligible(ctx, 1)
	assert.Equal(t, 3, inner.calls)
}
