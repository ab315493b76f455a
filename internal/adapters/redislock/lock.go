// Package redislock implements ports.ExecutionLock on Redis so that only one
// replica submits an arbitrage transaction at a time.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// unlockLua deletes the key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Config holds connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, default "flashpendle:lock:"
}

// Locker is a SETNX + TTL lock with a token-checked release.
type Locker struct {
	rdb      *redis.Client
	prefix   string
	unlockSc *redis.Script
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*Locker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redislock: ping %s: %w", cfg.Addr, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "flashpendle:lock:"
	}
	return &Locker{rdb: rdb, prefix: prefix, unlockSc: redis.NewScript(unlockLua)}, nil
}

// Acquire takes the lock for ttl. Returns domain.ErrLockHeld if another
// holder has it. The returned release func is idempotent.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := l.prefix + key

	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// caller's ctx may already be cancelled
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{k}, token).Err()
		})
	}
	return release, nil
}

// Close closes the Redis connection.
func (l *Locker) Close() error { return l.rdb.Close() }
