package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestDistributedLockMutualExclusion(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Minute)
	b := NewDistributedLock(client, "k", "b", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b must not release a's lock
	require.NoError(t, b.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLockGivesUpAfterRetries(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "k", "holder", time.Minute)
	require.NoError(t, holder.Lock(ctx, time.Millisecond, 1))

	waiter := NewDistributedLock(client, "k", "waiter", time.Minute)
	err := waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestDistributedLockExpires(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()

	require.NoError(t, NewDistributedLock(client, "k", "a", time.Second).Lock(ctx, time.Millisecond, 1))
	mr.FastForward(2 * time.Second)

	ok, err := NewDistributedLock(client, "k", "b", time.Second).TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSpendLockerAcquireRelease(t *testing.T) {
	mr, client := newClient(t)
	locker := NewSpendLocker(client, time.Minute)

	release, err := locker.Acquire(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("credits:lock:user:user_1"))

	release()
	assert.False(t, mr.Exists("credits:lock:user:user_1"))
}
