package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestTTLCacheSetIfAbsent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	require.True(t, c.SetIfAbsent("k", 1, time.Second))
	require.False(t, c.SetIfAbsent("k", 2, time.Second))

	now = now.Add(2 * time.Second)
	require.True(t, c.SetIfAbsent("k", 3, time.Second))
	v, _ := c.Get("k")
	require.Equal(t, 3, v)
}

func TestMemoryDeduperLeaseLifecycle(t *testing.T) {
	d := NewDeduper(nil)
	ctx := context.Background()
	key := EventKey("Stripe", "evt_1AbC")
	require.Equal(t, "payments:event:stripe|evt_1AbC", key)

	state, err := d.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	// Held but not finalized: a redelivery must not be acknowledged as a duplicate.
	state, err = d.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimInFlight, state)

	require.NoError(t, d.Complete(ctx, key, time.Hour))
	state, err = d.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimDone, state)
}

func TestMemoryDeduperReleaseAllowsRetry(t *testing.T) {
	d := NewDeduper(nil)
	ctx := context.Background()
	key := EventKey("stripe", "evt_2")

	state, err := d.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	require.NoError(t, d.Release(ctx, key))
	state, err = d.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)
}

func TestMemoryDeduperAbandonedLeaseLapses(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newMemoryDeduperAt(func() time.Time { return now })
	ctx := context.Background()
	key := EventKey("stripe", "evt_3")

	state, err := d.Claim(ctx, key, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	// The holder never completed or released; the lease runs out instead of the window.
	now = now.Add(31 * time.Second)
	state, err = d.Claim(ctx, key, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)
}
