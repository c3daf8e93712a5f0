package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/stretchr/testify/require"
)

func TestCheckoutLimiterDisabledWithoutRedis(t *testing.T) {
	limiter := NewCheckoutLimiter(NewTokenBucket(nil), config.NewStaticTuningHolder(config.DefaultTuning()))
	require.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "user_a")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestEvaluateRetryAfter(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	res := evaluate(false, 0.5, at, 1, 5)
	require.False(t, res.Allowed)
	require.Equal(t, 500*time.Millisecond, res.RetryAfter)
	require.Equal(t, at.Add(500*time.Millisecond), res.ResetTime)
	require.Equal(t, 5, res.Limit)

	res = evaluate(true, 3.9, at, 1, 5)
	require.True(t, res.Allowed)
	require.Equal(t, 3, res.Remaining)
	require.Zero(t, res.RetryAfter)
}

func TestBucketTTL(t *testing.T) {
	require.Equal(t, 10*time.Second, bucketTTL(1, 5))
	require.Equal(t, time.Second, bucketTTL(100, 1))
	require.Equal(t, time.Second, bucketTTL(0, 1))
}

func TestLockerNilIsDisabled(t *testing.T) {
	locker := NewLocker(nil)
	require.False(t, locker.Enabled())

	lease, err := locker.Acquire(context.Background(), "sweeper", time.Second)
	require.ErrorIs(t, err, ErrLockDisabled)
	require.Nil(t, lease)
}

func TestNilLeaseIsInert(t *testing.T) {
	var lease *Lease
	held, err := lease.Extend(context.Background(), time.Second)
	require.NoError(t, err)
	require.False(t, held)
	require.NoError(t, lease.Release(context.Background()))
}

func TestLockKeyNamespace(t *testing.T) {
	require.Equal(t, "coursemart:lock:sweeper", LockKey(" sweeper "))
}
