package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ClaimState is what a claim found for an event key.
type ClaimState int

const (
	// ClaimAcquired means the caller holds the processing lease.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another delivery holds an unexpired lease.
	ClaimInFlight
	// ClaimDone means the event was already absorbed within the window.
	ClaimDone
)

const (
	markProcessing = "processing"
	markDone       = "done"
)

// Deduper tracks provider event ids. A claim starts as a short processing
// lease and only becomes a dedup mark once Complete is called.
type Deduper interface {
	Claim(ctx context.Context, key string, lease time.Duration) (ClaimState, error)
	Complete(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// EventKey scopes an event id to its provider. Event ids are case sensitive.
func EventKey(provider, eventID string) string {
	return "payments:event:" + strings.ToLower(strings.TrimSpace(provider)) + "|" + strings.TrimSpace(eventID)
}

func stateOf(mark string) ClaimState {
	if mark == markDone {
		return ClaimDone
	}
	return ClaimInFlight
}

type redisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) Deduper {
	return &redisDeduper{client: client}
}

func (d *redisDeduper) Claim(ctx context.Context, key string, lease time.Duration) (ClaimState, error) {
	acquired, err := d.client.SetNX(ctx, key, markProcessing, lease).Result()
	if err != nil {
		return ClaimInFlight, err
	}
	if acquired {
		return ClaimAcquired, nil
	}
	mark, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Lease lapsed between the two calls; let the sender retry.
		return ClaimInFlight, nil
	}
	if err != nil {
		return ClaimInFlight, err
	}
	return stateOf(mark), nil
}

func (d *redisDeduper) Complete(ctx context.Context, key string, ttl time.Duration) error {
	return d.client.Set(ctx, key, markDone, ttl).Err()
}

func (d *redisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, key).Err()
}

type memoryDeduper struct {
	marks Cache[string, string]
}

func NewMemoryDeduper() Deduper {
	return &memoryDeduper{marks: NewTTLCache[string, string]()}
}

func newMemoryDeduperAt(now func() time.Time) *memoryDeduper {
	return &memoryDeduper{marks: newTTLCache[string, string](now)}
}

func (d *memoryDeduper) Claim(_ context.Context, key string, lease time.Duration) (ClaimState, error) {
	if d.marks.SetIfAbsent(key, markProcessing, lease) {
		return ClaimAcquired, nil
	}
	mark, ok := d.marks.Get(key)
	if !ok {
		return ClaimInFlight, nil
	}
	return stateOf(mark), nil
}

func (d *memoryDeduper) Complete(_ context.Context, key string, ttl time.Duration) error {
	d.marks.Set(key, markDone, ttl)
	return nil
}

func (d *memoryDeduper) Release(_ context.Context, key string) error {
	d.marks.Delete(key)
	return nil
}

// NewDeduper prefers redis so the window is shared across replicas.
func NewDeduper(client *redis.Client) Deduper {
	if client == nil {
		return NewMemoryDeduper()
	}
	return NewRedisDeduper(client)
}
