// Package orchestration implements the in-process execution plane: a single
// orchestrator drives a whole job from resolution through finalization inside
// one process, with per-step timeouts and retries, a bounded worker pool for
// the unit fetches, and a heartbeat that keeps the job lease alive for as
// long as the run makes progress. It shares every coordination primitive with
// the queue pipeline, so progress made here is visible to the same status
// surface.
package orchestration

import (
	"context"
	"time"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
)

// UpstreamClient is the slice of the upstream API the orchestrator needs.
type UpstreamClient interface {
	ResolveIdentity(ctx context.Context, gameName, tagLine, region string) (string, error)
	ListMatchIDs(ctx context.Context, puuid string, count, start int, region string) ([]string, error)
	FetchMatch(ctx context.Context, matchID, puuid, region string) (*matchhistory.MatchRecord, error)
}

// LeaseStore is the per-player mutual exclusion primitive.
type LeaseStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// CooldownGate reports the post-completion re-trigger throttle.
type CooldownGate interface {
	Remaining(ctx context.Context, key string) (time.Duration, bool, error)
}

// AdmissionGate grants fleet-wide permission for one upstream call.
type AdmissionGate interface {
	Admit(ctx context.Context) error
}

// AggregationStore tracks fan-in progress. The orchestrator writes progress
// through the shared store so cross-process status reads see it.
type AggregationStore interface {
	Create(ctx context.Context, aggKey, playerID string, total int, ttl time.Duration) error
	IncrementProcessed(ctx context.Context, aggKey string) (int64, error)
	Snapshot(ctx context.Context, aggKey string) (matchhistory.AggregationState, bool, error)
}

// PartialResultStore accumulates per-unit fetch output.
type PartialResultStore interface {
	Append(ctx context.Context, key string, rec matchhistory.MatchRecord, ttl time.Duration) error
	List(ctx context.Context, key string) ([]matchhistory.MatchRecord, error)
}

// ResultStore reads the durable cache for merging and existence checks.
type ResultStore interface {
	Read(ctx context.Context, cacheKey string) ([]matchhistory.MatchRecord, error)
	Exists(ctx context.Context, cacheKey string) (bool, error)
}

// ErrorStore reads the last recorded job failure, for cross-process queries.
type ErrorStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// Finalizer commits a job's terminal transition as one batch.
type Finalizer interface {
	Finalize(ctx context.Context, keys player.KeySet, records []matchhistory.MatchRecord, cacheTTL, cooldown time.Duration) error
	FinalizeEmpty(ctx context.Context, keys player.KeySet) error
	Abort(ctx context.Context, keys player.KeySet, errMsg string, errTTL time.Duration) error
}

// Config carries the orchestrator's tunables.
type Config struct {
	// GamesToFetch caps how many matches one job enumerates.
	GamesToFetch int
	// Workers bounds the concurrent unit fetches of one run.
	Workers int

	// LeaseTTL is how long the job lease lives without renewal.
	LeaseTTL time.Duration
	// RenewInterval is the heartbeat period; must be well under LeaseTTL.
	RenewInterval time.Duration

	// ResolveTimeout bounds the identity resolution step.
	ResolveTimeout time.Duration
	// EnumerateTimeout bounds the full match id enumeration.
	EnumerateTimeout time.Duration

	// AggregationTTL bounds how long an abandoned run's counter lingers.
	AggregationTTL time.Duration
	// PartialTTL bounds how long orphaned partial results linger.
	PartialTTL time.Duration
	// CacheTTL is the lifetime of the merged result cache.
	CacheTTL time.Duration
	// Cooldown is the post-completion re-trigger throttle.
	Cooldown time.Duration
	// ErrorTTL is the lifetime of a recorded job failure message.
	ErrorTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.GamesToFetch <= 0 {
		c.GamesToFetch = 500
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = time.Minute
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 30 * time.Second
	}
	if c.EnumerateTimeout <= 0 {
		c.EnumerateTimeout = 10 * time.Minute
	}
	return c
}
