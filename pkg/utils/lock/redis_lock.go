package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLock 定义分布式锁接口
// 用途: 定时任务多实例互斥、同一连接的 sync "要不要启动" 去重
type DistributedLock interface {
	// Acquire 尝试获取锁
	// key: 锁的唯一标识
	// ttl: 锁的过期时间 (兜底，防止持有者宕机后死锁)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release 释放锁。只有当前持有者能释放，过期后由别人持有的锁不会被误删。
	Release(ctx context.Context, key string) error
}

// releaseScript 先校验 Value 归属再删除，避免删掉别人的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLock 基于 Redis SET NX 的实现
type RedisLock struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string // key -> 本实例持有的随机 token
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{
		client: client,
		tokens: make(map[string]string),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	success, err := l.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return false, err
	}
	if success {
		l.mu.Lock()
		l.tokens[key] = token
		l.mu.Unlock()
	}
	return success, nil
}

func (l *RedisLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil // 本实例没持有过这把锁
	}
	return releaseScript.Run(ctx, l.client, []string{"lock:" + key}, token).Err()
}
