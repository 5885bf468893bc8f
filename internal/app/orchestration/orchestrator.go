package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

// cleanupAttempts is the retry budget for terminal batches. A failed cleanup
// wedges the player behind a dangling lease, so it gets a bigger budget than
// ordinary steps.
const cleanupAttempts = 5

// Orchestrator runs a complete fetch job inside one process.
type Orchestrator struct {
	upstream  UpstreamClient
	lease     LeaseStore
	cooldown  CooldownGate
	gate      AdmissionGate
	aggStore  AggregationStore
	partials  PartialResultStore
	results   ResultStore
	errs      ErrorStore
	finalizer Finalizer
	cfg       Config

	logger *logger.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	running map[string]struct{}
}

// NewOrchestrator wires an orchestrator over the shared stores.
func NewOrchestrator(
	upstream UpstreamClient,
	lease LeaseStore,
	cooldown CooldownGate,
	gate AdmissionGate,
	aggStore AggregationStore,
	partials PartialResultStore,
	results ResultStore,
	errs ErrorStore,
	finalizer Finalizer,
	cfg Config,
	log *logger.Logger,
	tracer trace.Tracer,
) *Orchestrator {
	return &Orchestrator{
		upstream:  upstream,
		lease:     lease,
		cooldown:  cooldown,
		gate:      gate,
		aggStore:  aggStore,
		partials:  partials,
		results:   results,
		errs:      errs,
		finalizer: finalizer,
		cfg:       cfg.withDefaults(),
		logger:    log.With("component", "orchestrator"),
		tracer:    tracer,
		running:   make(map[string]struct{}),
	}
}

// Run executes one fetch job for the player and blocks until it reaches a
// terminal state. Admission mirrors the trigger service: a live lease returns
// ErrJobInProgress, an active cooldown a CooldownError. While Run is active a
// heartbeat renews the lease; if a renewal finds the lease gone the run
// aborts with ErrLeaseLost and never writes the cache.
func (o *Orchestrator) Run(ctx context.Context, ref player.Ref) error {
	if ref.IsZero() {
		return fmt.Errorf("incomplete player reference %q", ref)
	}
	keys := ref.Keys()

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("player_id", ref.ID())))
	defer span.End()

	if remaining, active, err := o.cooldown.Remaining(ctx, keys.Cooldown); err != nil {
		return fmt.Errorf("checking cooldown: %w", err)
	} else if active {
		return &matchhistory.CooldownError{Remaining: remaining}
	}

	acquired, err := o.lease.Acquire(ctx, keys.Lock, o.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("acquiring lease: %w", err)
	}
	if !acquired {
		return matchhistory.ErrJobInProgress
	}

	return o.RunLeased(ctx, ref)
}

// RunLeased executes a job whose lease the caller already holds, for example
// one dispatched through the queue after the trigger service claimed it. The
// heartbeat takes over renewal; every exit path still ends with the lease
// released or expired.
func (o *Orchestrator) RunLeased(ctx context.Context, ref player.Ref) error {
	keys := ref.Keys()

	ctx, span := o.tracer.Start(ctx, "orchestrator.run_leased",
		trace.WithAttributes(attribute.String("player_id", ref.ID())))
	defer span.End()

	o.setRunning(ref.ID(), true)
	defer o.setRunning(ref.ID(), false)

	runCtx, cancel := context.WithCancelCause(ctx)
	heartbeatDone := o.startHeartbeat(runCtx, cancel, keys.Lock)

	runErr := o.execute(runCtx, ref, keys)

	// Stop the heartbeat and wait for it; a renewal racing the terminal
	// batch could otherwise recreate the lock key after release.
	cancel(nil)
	<-heartbeatDone

	if cause := context.Cause(runCtx); errors.Is(cause, matchhistory.ErrLeaseLost) {
		runErr = matchhistory.ErrLeaseLost
	}

	if runErr == nil {
		return nil
	}

	span.RecordError(runErr)
	span.SetStatus(codes.Error, "run failed")

	if errors.Is(runErr, matchhistory.ErrLeaseLost) {
		// The lock is not ours anymore; deleting it would cut down whoever
		// holds it now. Leftover job keys expire by their TTLs.
		o.logger.Error(ctx, "Run aborted after losing the job lease", "player_id", ref.ID())
		return runErr
	}

	cleanupCtx := context.WithoutCancel(ctx)
	abort := func() error {
		return o.finalizer.Abort(cleanupCtx, keys, userFacing(runErr), o.cfg.ErrorTTL)
	}
	if err := retryCleanup(abort); err != nil {
		o.logger.Error(ctx, "Failed to clean up after run failure, lease will expire by TTL",
			"player_id", ref.ID(), "error", err)
	}
	return runErr
}

// execute performs the job's steps under the run context. It returns nil for
// both the cache-written and the no-matches outcome; the terminal batch has
// already been committed when it returns.
func (o *Orchestrator) execute(ctx context.Context, ref player.Ref, keys player.KeySet) error {
	var puuid string
	resolve := func(stepCtx context.Context) error {
		var err error
		puuid, err = o.upstream.ResolveIdentity(stepCtx, ref.GameName, ref.TagLine, ref.Region)
		return err
	}
	if err := o.withRetry(ctx, o.cfg.ResolveTimeout, 3, resolve); err != nil {
		return err
	}

	var matchIDs []string
	enumerate := func(stepCtx context.Context) error {
		var err error
		matchIDs, err = o.enumerate(stepCtx, puuid, ref.Region)
		return err
	}
	if err := o.withRetry(ctx, o.cfg.EnumerateTimeout, 1, enumerate); err != nil {
		return fmt.Errorf("enumerating matches: %w", err)
	}

	if len(matchIDs) == 0 {
		o.logger.Info(ctx, "No ranked history found", "player_id", ref.ID())
		cleanupCtx := context.WithoutCancel(ctx)
		return retryCleanup(func() error { return o.finalizer.FinalizeEmpty(cleanupCtx, keys) })
	}

	if err := o.aggStore.Create(ctx, keys.Aggregation, ref.ID(), len(matchIDs), o.cfg.AggregationTTL); err != nil {
		return fmt.Errorf("creating aggregation state: %w", err)
	}

	if err := o.fetchUnits(ctx, ref, keys, puuid, matchIDs); err != nil {
		return err
	}

	return o.aggregate(ctx, ref, keys)
}

// fetchUnits processes the matches through a bounded worker pool. Individual
// fetch failures never abort the run; each unit advances the shared counter
// regardless of outcome so the job always converges.
func (o *Orchestrator) fetchUnits(ctx context.Context, ref player.Ref, keys player.KeySet, puuid string, matchIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, matchID := range matchIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			if err := o.fetchOne(gctx, ref, keys, puuid, matchID); err != nil {
				if gctx.Err() != nil {
					return err
				}
				o.logger.Warn(gctx, "Unit fetch failed, counting unit as processed",
					"player_id", ref.ID(), "match_id", matchID, "error", err)
			}

			if _, err := o.aggStore.IncrementProcessed(gctx, keys.Aggregation); err != nil {
				return fmt.Errorf("incrementing processed count for %s: %w", matchID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetching units: %w", err)
	}
	return nil
}

func (o *Orchestrator) fetchOne(ctx context.Context, ref player.Ref, keys player.KeySet, puuid, matchID string) error {
	if err := o.gate.Admit(ctx); err != nil {
		return err
	}
	record, err := o.upstream.FetchMatch(ctx, matchID, puuid, ref.Region)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	return o.partials.Append(ctx, keys.PartialResults, *record, o.cfg.PartialTTL)
}

func (o *Orchestrator) aggregate(ctx context.Context, ref player.Ref, keys player.KeySet) error {
	fresh, err := o.partials.List(ctx, keys.PartialResults)
	if err != nil {
		return fmt.Errorf("listing partial results: %w", err)
	}

	cleanupCtx := context.WithoutCancel(ctx)

	if len(fresh) == 0 {
		o.logger.Warn(ctx, "Run produced no partial results, cleaning up", "player_id", ref.ID())
		return retryCleanup(func() error { return o.finalizer.FinalizeEmpty(cleanupCtx, keys) })
	}

	cached, err := o.results.Read(ctx, keys.Cache)
	if err != nil && !errors.Is(err, matchhistory.ErrNoHistory) {
		return fmt.Errorf("reading existing cache: %w", err)
	}
	merged := matchhistory.Merge(fresh, cached)

	commit := func() error {
		return o.finalizer.Finalize(cleanupCtx, keys, merged, o.cfg.CacheTTL, o.cfg.Cooldown)
	}
	if err := retryCleanup(commit); err != nil {
		return fmt.Errorf("finalizing run: %w", err)
	}

	o.logger.Info(ctx, "Run completed",
		"player_id", ref.ID(), "fresh", len(fresh), "merged", len(merged))
	return nil
}

// startHeartbeat renews the lease every RenewInterval until the run context
// ends. A renewal that finds the key gone cancels the run with ErrLeaseLost.
// The returned channel closes when the loop has fully stopped.
func (o *Orchestrator) startHeartbeat(ctx context.Context, cancel context.CancelCauseFunc, lockKey string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.cfg.RenewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := o.lease.Renew(ctx, lockKey, o.cfg.LeaseTTL)
				if err != nil {
					// Transient store trouble; the lease still has most of
					// its TTL, try again next tick.
					o.logger.Warn(ctx, "Lease renewal attempt failed", "error", err)
					continue
				}
				if !held {
					cancel(matchhistory.ErrLeaseLost)
					return
				}
			}
		}
	}()
	return done
}

// enumerate pages through the match id listing under the admission gate, up
// to the configured cap.
func (o *Orchestrator) enumerate(ctx context.Context, puuid, region string) ([]string, error) {
	var all []string
	for len(all) < o.cfg.GamesToFetch {
		remaining := o.cfg.GamesToFetch - len(all)

		if err := o.gate.Admit(ctx); err != nil {
			return nil, err
		}
		page, err := o.upstream.ListMatchIDs(ctx, puuid, remaining, len(all), region)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < remaining && len(page) < 100 {
			break
		}
	}
	return all, nil
}

// withRetry runs one activity under its own timeout with a bounded attempt
// budget. Terminal errors and step-timeout expiry are not retried.
func (o *Orchestrator) withRetry(ctx context.Context, timeout time.Duration, attempts uint64, op func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wrapped := func() error {
		err := op(stepCtx)
		if err == nil {
			return nil
		}
		if matchhistory.IsTerminal(err) || stepCtx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), attempts-1)
	return backoff.Retry(wrapped, backoff.WithContext(b, stepCtx))
}

func retryCleanup(op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), cleanupAttempts-1)
	return backoff.Retry(op, b)
}

// userFacing maps an internal error to the message recorded against the
// job's error key.
func userFacing(err error) string {
	switch {
	case errors.Is(err, matchhistory.ErrPlayerNotFound):
		return matchhistory.ErrPlayerNotFound.Error()
	case errors.Is(err, matchhistory.ErrAdmissionTimeout):
		return matchhistory.ErrAdmissionTimeout.Error()
	default:
		return "fetch job failed"
	}
}

func (o *Orchestrator) setRunning(playerID string, active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if active {
		o.running[playerID] = struct{}{}
	} else {
		delete(o.running, playerID)
	}
}

func (o *Orchestrator) isRunning(playerID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.running[playerID]
	return ok
}

// Query reports the player's job state without blocking or mutating it. The
// shared aggregation counter makes in-flight progress visible across
// processes; a run registered in this process that has not yet created its
// counter reports zero progress.
func (o *Orchestrator) Query(ctx context.Context, ref player.Ref) (matchhistory.JobSnapshot, error) {
	keys := ref.Keys()

	if agg, found, err := o.aggStore.Snapshot(ctx, keys.Aggregation); err != nil {
		return matchhistory.JobSnapshot{}, fmt.Errorf("reading aggregation state: %w", err)
	} else if found {
		return matchhistory.RunningSnapshot(agg.Processed, agg.Total), nil
	}

	if o.isRunning(ref.ID()) {
		return matchhistory.RunningSnapshot(0, 0), nil
	}

	if msg, found, err := o.errs.Get(ctx, keys.Error); err != nil {
		return matchhistory.JobSnapshot{}, fmt.Errorf("reading job error: %w", err)
	} else if found {
		return matchhistory.FailedSnapshot(msg), nil
	}

	if exists, err := o.results.Exists(ctx, keys.Cache); err != nil {
		return matchhistory.JobSnapshot{}, fmt.Errorf("checking cache: %w", err)
	} else if exists {
		return matchhistory.CompletedSnapshot(), nil
	}

	return matchhistory.NoMatchesSnapshot(), nil
}
