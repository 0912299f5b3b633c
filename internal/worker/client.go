package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"roundup-core/internal/worker/tasks"
)

// Client 封装 Asynq Client
type Client struct {
	client *asynq.Client
}

// NewClient 初始化 Client
// addr: "localhost:6379"
func NewClient(addr string, password string, db int) *Client {
	c := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Client{client: c}
}

// Enqueue 将任务推送到队列
func (c *Client) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.Enqueue(task, opts...)
}

// TriggerSync 把 sync_available 事件转成异步 sync 任务
// TaskID 按连接固定，同一连接重复触发在队列侧折叠为一个任务
func (c *Client) TriggerSync(ctx context.Context, connectionID uint64) error {
	task, err := tasks.NewBankSyncTask(connectionID, "webhook")
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil // 同一连接的 sync 已在队列里
	}
	return err
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}
