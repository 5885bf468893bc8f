package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownGate throttles how soon a completed job can be re-triggered for the
// same player. It is consulted only at job-start time, and never once a lease
// already exists: attaching to in-progress work always takes priority.
type CooldownGate struct {
	client *redis.Client
}

// NewCooldownGate creates a cooldown gate on the shared store client.
func NewCooldownGate(client *redis.Client) *CooldownGate {
	return &CooldownGate{client: client}
}

// Remaining returns how long the cooldown for key has left to run. The bool
// is false when no cooldown is live.
func (g *CooldownGate) Remaining(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := g.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("reading cooldown %s: %w", key, err)
	}
	if ttl <= 0 {
		// -2 means the key does not exist, -1 means no expiry was set.
		return 0, false, nil
	}
	return ttl, true, nil
}

// Set starts a cooldown window for key. The marker expires on its own.
func (g *CooldownGate) Set(ctx context.Context, key string, d time.Duration) error {
	if err := g.client.SetEx(ctx, key, leaseValue, d).Err(); err != nil {
		return fmt.Errorf("setting cooldown %s: %w", key, err)
	}
	return nil
}
