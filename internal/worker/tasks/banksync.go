package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量
const (
	TypeBankSync = "bank:sync"
)

// BankSyncPayload 单个连接的异步 sync 任务参数
type BankSyncPayload struct {
	ConnectionID uint64 `json:"connection_id"`
	Trigger      string `json:"trigger"` // webhook / manual
}

// ConnectionSyncer Worker 侧对 sync 逻辑的依赖
type ConnectionSyncer interface {
	SyncOnce(ctx context.Context, connectionID uint64, trigger string) error
}

// NewBankSyncTask 创建异步 sync 任务
// 按连接去重: 同一连接的 sync_available 风暴折叠成一个在队任务，
// 真正的 "要不要启动" 判定还有分布式锁兜底
func NewBankSyncTask(connectionID uint64, trigger string) (*asynq.Task, error) {
	payload, err := json.Marshal(BankSyncPayload{ConnectionID: connectionID, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBankSync, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.TaskID(fmt.Sprintf("bank:sync:%d", connectionID)),
		asynq.Queue("critical"),
	), nil
}

// NewBankSyncHandler 返回 sync 任务的处理函数
func NewBankSyncHandler(syncer ConnectionSyncer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p BankSyncPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			// 解析失败重试也没用，进 Archived 队列排查
			return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}
		return syncer.SyncOnce(ctx, p.ConnectionID, p.Trigger)
	}
}
