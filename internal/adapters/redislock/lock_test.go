package redislock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flashpendle/internal/adapters/redislock"
	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// newLocker needs a live Redis; set REDIS_ADDR to run these tests.
func newLocker(t *testing.T) *redislock.Locker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	l, err := redislock.New(context.Background(), redislock.Config{Addr: addr, Prefix: "test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLocker_SecondAcquireHeld(t *testing.T) {
	l := newLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "execute", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "execute", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release() // idempotent

	again, err := l.Acquire(ctx, "execute", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLocker_ExpiresAfterTTL(t *testing.T) {
	l := newLocker(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "ttl", 100*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		release, err := l.Acquire(ctx, "ttl", time.Minute)
		if err != nil {
			return false
		}
		release()
		return true
	}, 2*time.Second, 50*time.Millisecond)
}

func TestLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	l := newLocker(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "stale", 100*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	fresh, err := l.Acquire(ctx, "stale", time.Minute)
	require.NoError(t, err)
	defer fresh()

	stale() // token mismatch: must not delete the new holder's key
	_, err = l.Acquire(ctx, "stale", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := redislock.New(ctx, redislock.Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
