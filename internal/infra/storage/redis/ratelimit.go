package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
)

// RateLimiter is the global admission gate in front of the shared upstream
// API quota. It converts the fixed-rate limit into a distributed mutex with a
// time-based release: before every upstream call a worker attempts an atomic
// set-if-absent on a single well-known key with expiry equal to the minimum
// inter-request interval. On refusal it backs off briefly and tries again.
//
// Under contention, upstream calls serialize at the configured interval across
// all workers regardless of worker count or host. There is no fairness
// guarantee beyond eventual admission; a caller that waits past MaxWait gets
// ErrAdmissionTimeout rather than blocking unbounded.
type RateLimiter struct {
	client *redis.Client

	key      string
	interval time.Duration
	poll     time.Duration
	maxWait  time.Duration
}

// RateLimiterConfig tunes the admission gate.
type RateLimiterConfig struct {
	// Interval is the minimum spacing between upstream calls fleet-wide.
	Interval time.Duration
	// Poll is how long a refused caller sleeps before re-checking.
	Poll time.Duration
	// MaxWait bounds the total time a single admission attempt may take.
	MaxWait time.Duration
}

// NewRateLimiter creates the shared admission gate.
func NewRateLimiter(client *redis.Client, cfg RateLimiterConfig) *RateLimiter {
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}
	return &RateLimiter{
		client:   client,
		key:      player.RateLimitKey,
		interval: cfg.Interval,
		poll:     cfg.Poll,
		maxWait:  cfg.MaxWait,
	}
}

// Admit blocks until this caller holds the inter-request slot, the context is
// cancelled, or MaxWait elapses. A nil return means the caller may perform
// exactly one upstream call; the slot releases itself when the interval
// expires.
func (r *RateLimiter) Admit(ctx context.Context) error {
	deadline := time.Now().Add(r.maxWait)

	for {
		ok, err := r.client.SetNX(ctx, r.key, leaseValue, r.interval).Result()
		if err != nil {
			return fmt.Errorf("rate limit admission check: %w", err)
		}
		if ok {
			return nil
		}

		if time.Now().After(deadline) {
			return matchhistory.ErrAdmissionTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

// Interval returns the configured minimum spacing between upstream calls.
func (r *RateLimiter) Interval() time.Duration { return r.interval }
