// Package pipeline implements the queue-driven execution plane: a dispatcher
// that fans a job out into per-match fetch units, an executor that processes
// units under the shared admission gate, and an aggregator that fans results
// back in and commits the terminal state. All coordination state lives in the
// store; the services themselves are stateless and safe to run replicated.
package pipeline

import (
	"context"
	"time"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
)

// UpstreamClient is the slice of the upstream API the pipeline needs.
type UpstreamClient interface {
	ResolveIdentity(ctx context.Context, gameName, tagLine, region string) (string, error)
	ListMatchIDs(ctx context.Context, puuid string, count, start int, region string) ([]string, error)
	FetchMatch(ctx context.Context, matchID, puuid, region string) (*matchhistory.MatchRecord, error)
}

// AdmissionGate grants fleet-wide permission for one upstream call.
type AdmissionGate interface {
	Admit(ctx context.Context) error
}

// AggregationStore tracks fan-in progress for active jobs.
type AggregationStore interface {
	Create(ctx context.Context, aggKey, playerID string, total int, ttl time.Duration) error
	IncrementProcessed(ctx context.Context, aggKey string) (int64, error)
	Total(ctx context.Context, aggKey string) (int, error)
}

// PartialResultStore accumulates per-unit fetch output.
type PartialResultStore interface {
	Append(ctx context.Context, key string, rec matchhistory.MatchRecord, ttl time.Duration) error
	List(ctx context.Context, key string) ([]matchhistory.MatchRecord, error)
}

// ResultReader reads the durable cache for merging.
type ResultReader interface {
	Read(ctx context.Context, cacheKey string) ([]matchhistory.MatchRecord, error)
}

// Finalizer commits a job's terminal transition as one batch.
type Finalizer interface {
	Finalize(ctx context.Context, keys player.KeySet, records []matchhistory.MatchRecord, cacheTTL, cooldown time.Duration) error
	FinalizeEmpty(ctx context.Context, keys player.KeySet) error
	Abort(ctx context.Context, keys player.KeySet, errMsg string, errTTL time.Duration) error
}

// Config carries the tunables shared by the three pipeline services.
type Config struct {
	// GamesToFetch caps how many matches one job enumerates.
	GamesToFetch int
	// AggregationTTL bounds how long an abandoned job's counter lingers.
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
