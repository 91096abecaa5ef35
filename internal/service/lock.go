package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	drainLockKey = "monbeats:sync:drain:lock"
)

// DrainLock 批次处理分布式锁
//
// 保证多实例部署时同一时刻只有一个实例在处理同步队列
type DrainLock struct {
	client redis.UniversalClient
	value  string
	ttl    time.Duration
}

// NewDrainLock 创建批次处理锁
func NewDrainLock(client redis.UniversalClient, instanceID string, ttl time.Duration) *DrainLock {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &DrainLock{
		client: client,
		value:  fmt.Sprintf("%s:%d", instanceID, time.Now().UnixNano()),
		ttl:    ttl,
	}
}

// TryLock 尝试获取锁
func (l *DrainLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, drainLockKey, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire drain lock: %w", err)
	}
	return ok, nil
}

// Unlock 释放锁
//
// 使用 Lua 脚本确保只释放自己持有的锁
func (l *DrainLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`

	_, err := l.client.Eval(ctx, script, []string{drainLockKey}, l.value).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release drain lock: %w", err)
	}

	return nil
}
