package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis distributed lock
// ============================================================================
//
// Acquire: SET key token NX PX ttl
//   - NX gives mutual exclusion
//   - the TTL releases the lock if the holder dies
//   - token identifies the holder so only it can release
//
// Release: a Lua script compares the token and deletes in one step.
//
// The lock serializes spends of the same user across service instances. It is
// a fast path only: the ledger's conditional update and CHECK constraint stay
// the source of truth for the non-negative balance.
// ============================================================================

var ErrLockFailed = errors.New("failed to acquire distributed lock")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type DistributedLock struct {
	client     *redis.Client
	key        string
	token      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, token string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		token:      token,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
}

// Lock retries TryLock until it succeeds, ctx ends or maxRetries is reached.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock only if it is still held with our token.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// SpendLocker hands out per-user spend locks.
type SpendLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewSpendLocker(client *redis.Client, ttl time.Duration) *SpendLocker {
	return &SpendLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    40,
	}
}

// Acquire blocks until the user's spend lock is held and returns its release func.
func (s *SpendLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	l := NewDistributedLock(s.client, fmt.Sprintf("credits:lock:user:%s", userID), uuid.NewString(), s.ttl)
	if err := l.Lock(ctx, s.retryInterval, s.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// ctx may already be cancelled here
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Unlock(releaseCtx)
	}, nil
}
