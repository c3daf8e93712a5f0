package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockNamespace = "coursemart:lock:"

// Both scripts act only while the stored token is still ours, so a holder
// whose lease lapsed can never release or prolong a successor's lease.
const (
	lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
	lockExtendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`
)

var (
	ErrLockDisabled   = errors.New("lock: redis not configured")
	ErrLockNameEmpty  = errors.New("lock: name is empty")
	ErrLockTTLInvalid = errors.New("lock: ttl must be positive")
)

// LockKey is the redis key a named lock is stored under.
func LockKey(name string) string {
	return lockNamespace + strings.TrimSpace(name)
}

// Locker hands out single-holder leases on named resources, such as the
// sweeper pass.
type Locker struct {
	client  *redis.Client
	release *redis.Script
	extend  *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(lockReleaseScript),
		extend:  redis.NewScript(lockExtendScript),
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// Lease is a held lock.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire returns a lease on name, or nil when another holder has it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if !l.Enabled() {
		return nil, ErrLockDisabled
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrLockNameEmpty
	}
	if ttl <= 0 {
		return nil, ErrLockTTLInvalid
	}

	key := LockKey(name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Extend pushes the expiry out to ttl from now. False means the lease was
// already lost.
func (le *Lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	if le == nil {
		return false, nil
	}
	if ttl <= 0 {
		return false, ErrLockTTLInvalid
	}
	n, err := le.locker.extend.Run(ctx, le.locker.client, []string{le.key}, le.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	return le.locker.release.Run(ctx, le.locker.client, []string{le.key}, le.token).Err()
}
