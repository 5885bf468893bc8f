package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
)

// JobFinalizer executes the terminal state transition of a job as one
// pipelined batch: cache swap, cooldown marker, temporary key cleanup, and
// lease release become visible together. A crash before the batch leaves the
// job's temporary keys intact for diagnosis; a crash after leaves nothing
// half-done.
type JobFinalizer struct {
	client *redis.Client
}

// NewJobFinalizer creates a finalizer on the shared client.
func NewJobFinalizer(client *redis.Client) *JobFinalizer {
	return &JobFinalizer{client: client}
}

// Finalize commits a successful job: replace the cache with the merged
// records, start the cooldown window, drop the aggregation counter, partial
// results and error key, and release the lease.
func (f *JobFinalizer) Finalize(
	ctx context.Context,
	keys player.KeySet,
	records []matchhistory.MatchRecord,
	cacheTTL, cooldown time.Duration,
) error {
	if len(records) == 0 {
		return fmt.Errorf("finalize called with no records for %s", keys.Cache)
	}

	pipe := f.client.TxPipeline()
	if err := stageReplace(ctx, pipe, keys.Cache, records, cacheTTL); err != nil {
		return err
	}
	pipe.SetEx(ctx, keys.Cooldown, leaseValue, cooldown)
	pipe.Del(ctx, keys.Aggregation, keys.PartialResults, keys.Error)
	pipe.Del(ctx, keys.Lock)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finalizing job for %s: %w", keys.Cache, err)
	}
	return nil
}

// FinalizeEmpty commits a terminal outcome that produced no cache write (no
// partial results survived). Temporary keys are dropped and the lease is
// released; no cooldown is set so the caller can retry sooner.
func (f *JobFinalizer) FinalizeEmpty(ctx context.Context, keys player.KeySet) error {
	pipe := f.client.TxPipeline()
	pipe.Del(ctx, keys.Aggregation, keys.PartialResults)
	pipe.Del(ctx, keys.Lock)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cleaning up job for %s: %w", keys.Cache, err)
	}
	return nil
}

// Abort records a job failure and releases the lease in one batch. The error
// message stays readable under the error key until the next successful
// finalize or its TTL, whichever comes first.
func (f *JobFinalizer) Abort(ctx context.Context, keys player.KeySet, errMsg string, errTTL time.Duration) error {
	pipe := f.client.TxPipeline()
	if errMsg != "" {
		pipe.SetEx(ctx, keys.Error, errMsg, errTTL)
	}
	pipe.Del(ctx, keys.Aggregation, keys.PartialResults)
	pipe.Del(ctx, keys.Lock)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("aborting job for %s: %w", keys.Cache, err)
	}
	return nil
}
