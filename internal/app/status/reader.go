// Package status derives the externally visible state of a player's data
// from the coordination keys alone. It never blocks on a job and never
// mutates anything, so it is safe to poll at any rate from any process.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
)

// State labels the externally visible phases of a player's data.
type State string

const (
	// StateCooldown means a job recently completed and re-triggering is
	// throttled.
	StateCooldown State = "cooldown"
	// StateUpdating means a job holds the lease and is making progress.
	StateUpdating State = "updating"
	// StateReady means cached history exists and no job is active.
	StateReady State = "ready"
	// StateNoData means nothing is known about the player yet.
	StateNoData State = "no_data"
)

// Snapshot is one point-in-time observation of a player's state.
type Snapshot struct {
	State State `json:"status"`
	// Remaining is the cooldown left, only meaningful in StateCooldown.
	Remaining time.Duration `json:"-"`
	// Processed and Total carry fan-in progress in StateUpdating.
	Processed int `json:"processed,omitempty"`
	Total     int `json:"total,omitempty"`
	// Err is the last recorded job failure, if any, regardless of state.
	Err string `json:"error,omitempty"`
}

// Terminal reports whether polling can stop at this snapshot.
func (s Snapshot) Terminal() bool {
	return s.State == StateReady || s.State == StateNoData || s.State == StateCooldown
}

// CooldownGate reports the re-trigger throttle.
type CooldownGate interface {
	Remaining(ctx context.Context, key string) (time.Duration, bool, error)
}

// AggregationStore reads fan-in progress.
type AggregationStore interface {
	Snapshot(ctx context.Context, aggKey string) (matchhistory.AggregationState, bool, error)
}

// LeaseStore checks for an active job lease.
type LeaseStore interface {
	Held(ctx context.Context, key string) (bool, error)
}

// ResultStore checks for cached history.
type ResultStore interface {
	Exists(ctx context.Context, cacheKey string) (bool, error)
}

// ErrorStore reads the last recorded job failure.
type ErrorStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// Reader assembles snapshots from the coordination keys.
type Reader struct {
	cooldown CooldownGate
	agg      AggregationStore
	lease    LeaseStore
	results  ResultStore
	errs     ErrorStore
}

// NewReader creates a status reader over the shared stores.
func NewReader(cooldown CooldownGate, agg AggregationStore, lease LeaseStore, results ResultStore, errs ErrorStore) *Reader {
	return &Reader{cooldown: cooldown, agg: agg, lease: lease, results: results, errs: errs}
}

// Snapshot observes the player's current state. Precedence: cooldown beats
// everything (a finished job's lease may linger for an instant inside the
// terminal batch), then live progress, then a bare lease (job starting), then
// cached data, then nothing.
func (r *Reader) Snapshot(ctx context.Context, ref player.Ref) (Snapshot, error) {
	keys := ref.Keys()

	var snap Snapshot
	if msg, found, err := r.errs.Get(ctx, keys.Error); err != nil {
		return Snapshot{}, fmt.Errorf("reading job error: %w", err)
	} else if found {
		snap.Err = msg
	}

	if remaining, active, err := r.cooldown.Remaining(ctx, keys.Cooldown); err != nil {
		return Snapshot{}, fmt.Errorf("checking cooldown: %w", err)
	} else if active {
		snap.State = StateCooldown
		snap.Remaining = remaining
		return snap, nil
	}

	if agg, found, err := r.agg.Snapshot(ctx, keys.Aggregation); err != nil {
		return Snapshot{}, fmt.Errorf("reading aggregation state: %w", err)
	} else if found {
		snap.State = StateUpdating
		snap.Processed = agg.Processed
		snap.Total = agg.Total
		return snap, nil
	}

	if held, err := r.lease.Held(ctx, keys.Lock); err != nil {
		return Snapshot{}, fmt.Errorf("checking lease: %w", err)
	} else if held {
		// Lease acquired but fan-out has not created the counter yet.
		snap.State = StateUpdating
		return snap, nil
	}

	if exists, err := r.results.Exists(ctx, keys.Cache); err != nil {
		return Snapshot{}, fmt.Errorf("checking cache: %w", err)
	} else if exists {
		snap.State = StateReady
		return snap, nil
	}

	snap.State = StateNoData
	return snap, nil
}
