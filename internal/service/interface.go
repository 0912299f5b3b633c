package service

import "context"

// EligibilityChecker 外部 Document/KYC 服务的资格门
// 本核心只读这个布尔结果，从不回写 KYC 状态
type EligibilityChecker interface {
	// IsEligible 机构当前是否具备收款资格
	IsEligible(ctx context.Context, orgID uint64) (bool, error)
}

// SyncTrigger 由 webhook 触发的异步 sync 入口 (sync_available 事件)
// 解耦 WebhookService 和任务队列，测试里可以用函数替身
type SyncTrigger interface {
	// TriggerSync 请求对指定连接执行一次 sync，立即返回
	TriggerSync(ctx context.Context, connectionID uint64) error
}
