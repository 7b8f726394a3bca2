package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockNotConfigured = errors.New("lock client not configured")
	ErrLockKeyEmpty      = errors.New("lock key is empty")
	ErrLockTTLInvalid    = errors.New("lock ttl must be positive")
)

// Locker hands out best-effort exclusive leases backed by SET NX PX. A lease
// only narrows duplicate work; row locks in the database remain the guard.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

// Lease is held until Release or until its TTL runs out.
type Lease struct {
	Key   string
	Token string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// Enabled reports whether leases are backed by redis.
func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// TryAcquire returns (nil, false, nil) when another holder owns key.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if !l.Enabled() {
		return nil, false, ErrLockNotConfigured
	}
	if key == "" {
		return nil, false, ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return nil, false, ErrLockTTLInvalid
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token}, true, nil
}

// Release deletes the key only if the lease still owns it.
func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if !l.Enabled() || lease == nil || lease.Token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{lease.Key}, lease.Token).Err()
}
