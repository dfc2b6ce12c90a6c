package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xandra-X/humio/pkg/redis"
)

// KeyLocker 按 key 互斥的咨询锁
// 多实例部署时使用 Redis 实现；单实例或未配置 Redis 时使用进程内实现
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func userLockKey(userID int64) string {
	return fmt.Sprintf("attendance:user:%d", userID)
}

func dayLockKey(employeeID int64, date string) string {
	return fmt.Sprintf("attendance:day:%d:%s", employeeID, date)
}

// ── Redis 实现 ──

type redisLocker struct {
	rdb  *redis.Client
	ttl  time.Duration
	wait time.Duration
}

// NewRedisLocker 基于 Redis SET NX PX 的分布式锁
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) KeyLocker {
	return &redisLocker{rdb: rdb, ttl: ttl, wait: wait}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	return l.rdb.Lock(ctx, key, l.ttl, l.wait)
}

// ── 进程内实现 ──

type localLocker struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 进程内按 key 互斥，空闲 key 自动回收
func NewLocalLocker() KeyLocker {
	return &localLocker{locks: make(map[string]*refMutex)}
}

func (l *localLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &refMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, m)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-m.ch
			l.release(key, m)
		})
	}, nil
}

func (l *localLocker) release(key string, m *refMutex) {
	l.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
