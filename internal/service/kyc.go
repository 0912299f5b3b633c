package service

import (
	"context"
	"fmt"
	"time"

	"roundup-core/pkg/cache"
)

// CachedEligibilityChecker 给 KYC 资格检查套一层带 TTL 的缓存
// 结算收口是按机构批量跑的，不给外部 KYC 服务放大流量；
// TTL 有界，资格被吊销后最多延迟一个 TTL 生效
type CachedEligibilityChecker struct {
	inner EligibilityChecker
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedEligibilityChecker(inner EligibilityChecker, c cache.Cache, ttl time.Duration) *CachedEligibilityChecker {
	return &CachedEligibilityChecker{
		inner: inner,
		cache: c,
		ttl:   ttl,
	}
}

func (c *CachedEligibilityChecker) IsEligible(ctx context.Context, orgID uint64) (bool, error) {
	key := fmt.Sprintf("kyc:eligible:%d", orgID)

	var eligible bool
	if err := c.cache.Get(ctx, key, &eligible); err == nil {
		return eligible, nil
	}

	eligible, err := c.inner.IsEligible(ctx, orgID)
	if err != nil {
		return false, err
	}

	_ = c.cache.Set(ctx, key, eligible, c.ttl)
	return eligible, nil
}

// Invalidate 资格变更回调时主动失效
func (c *CachedEligibilityChecker) Invalidate(ctx context.Context, orgID uint64) {
	_ = c.cache.Delete(ctx, fmt.Sprintf("kyc:eligible:%d", orgID))
}

// StaticEligibilityChecker 模拟模式: 所有机构默认合格
// 真实部署替换为 Document/KYC 服务的 HTTP 客户端
type StaticEligibilityChecker struct {
	Ineligible map[uint64]struct{} // 测试时可以点名不合格的机构
}

func NewStaticEligibilityChecker() *StaticEligibilityChecker {
	return &StaticEligibilityChecker{Ineligible: make(map[uint64]struct{})}
}

func (s *StaticEligibilityChecker) IsEligible(ctx context.Context, orgID uint64) (bool, error) {
	_, bad := s.Ineligible[orgID]
	return !bad, nil
}
