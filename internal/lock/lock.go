// Package lock serializes transitions on one contract.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker acquires an exclusive lock on key. The returned unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// ContractKey is the lock key of a contract.
func ContractKey(kind models.ContractKind, id uint) string {
	return fmt.Sprintf("contract:%s:%d", kind, id)
}

// Local is an in-process keyed mutex.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { l.release(key, e, true) }) }, nil
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}
}

func (l *Local) release(key string, e *localEntry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// redisClient is the subset of *redis.Client used by Redis.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var ErrLockTimeout = errors.New("lock: timed out waiting for lock")

// Redis is a lock shared by every process using the same Redis instance.
// The lock expires after TTL so a crashed holder cannot block a contract forever.
type Redis struct {
	rdb    redisClient
	TTL    time.Duration
	Wait   time.Duration
	Poll   time.Duration
	Logger *slog.Logger
}

func NewRedis(rdb redisClient) *Redis {
	return &Redis{rdb: rdb, TTL: 30 * time.Second, Wait: 10 * time.Second, Poll: 50 * time.Millisecond, Logger: slog.Default()}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := "lock:" + key
	deadline := time.Now().Add(r.Wait)
	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Background context: the caller's context may already be done.
				if err := releaseScript.Run(context.Background(), r.rdb, []string{redisKey}, token).Err(); err != nil {
					r.logger().Error("release lock failed, held until ttl", "key", key, "ttl", r.TTL, "error", err)
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Poll):
		}
	}
}

func (r *Redis) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
