package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaseValue is the marker stored under a held lock key. Existence, not the
// value, carries the lease state.
const leaseValue = "1"

// Lease provides the per-player exclusive job lock with a TTL. At most one
// caller holds the lease for a key at any instant; creation is a single
// atomic set-if-absent.
type Lease struct {
	client *redis.Client
}

// NewLease creates a lease manager on the shared store client.
func NewLease(client *redis.Client) *Lease {
	return &Lease{client: client}
}

// Acquire attempts to take the lease. It returns false without blocking when
// the lease is already held. Store errors are retryable by the caller.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, leaseValue, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	return ok, nil
}

// Renew resets the lease TTL. A false return means the key no longer exists:
// the lease was lost, and the caller must stop treating itself as exclusive.
// A lost renew is never retried silently.
func (l *Lease) Renew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("renewing lease %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the lease unconditionally. Releasing an absent lease is not
// an error; termination paths call this without checking ownership first.
func (l *Lease) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	return nil
}

// Held reports whether the lease key currently exists.
func (l *Lease) Held(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("checking lease %s: %w", key, err)
	}
	return n > 0, nil
}
