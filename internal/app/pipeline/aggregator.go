package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

// Aggregator fans a completed job back in: it collects the partial results,
// merges them with whatever the cache already holds, and commits the terminal
// batch. The merge keeps fresh records over cached duplicates so a re-fetch
// updates stale outcomes, and previously cached matches outside the fetch
// window survive.
type Aggregator struct {
	partials  PartialResultStore
	results   ResultReader
	finalizer Finalizer
	cfg       Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewAggregator creates the fan-in handler.
func NewAggregator(
	partials PartialResultStore,
	results ResultReader,
	finalizer Finalizer,
	cfg Config,
	log *logger.Logger,
	tracer trace.Tracer,
) *Aggregator {
	return &Aggregator{
		partials:  partials,
		results:   results,
		finalizer: finalizer,
		cfg:       cfg,
		logger:    log.With("component", "aggregator"),
		tracer:    tracer,
	}
}

// HandleAggregationRequested merges and commits one finished job. Store
// failures are redelivered: the terminal batch is atomic, so a retry either
// repeats a no-op cleanup or commits what the first attempt could not.
func (a *Aggregator) HandleAggregationRequested(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	req, ok := evt.Payload.(matchhistory.AggregationRequestedEvent)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Type)
		ack(nil)
		return err
	}

	ctx, span := a.tracer.Start(ctx, "aggregator.handle_aggregation",
		trace.WithAttributes(
			attribute.String("job_id", req.JobID.String()),
			attribute.String("player_id", req.Player.ID()),
		))
	defer span.End()

	keys := req.Player.Keys()

	fresh, err := a.partials.List(ctx, keys.PartialResults)
	if err != nil {
		span.RecordError(err)
		ack(err)
		return fmt.Errorf("listing partial results: %w", err)
	}

	if len(fresh) == 0 {
		// Every unit failed or the player vanished from all matches. Clean
		// up without touching the cache and without a cooldown.
		a.logger.Warn(ctx, "Aggregation found no partial results, cleaning up",
			"job_id", req.JobID, "player_id", req.Player.ID())
		if err := a.finalizer.FinalizeEmpty(ctx, keys); err != nil {
			ack(err)
			return fmt.Errorf("cleaning up empty job: %w", err)
		}
		ack(nil)
		return nil
	}

	cached, err := a.results.Read(ctx, keys.Cache)
	if err != nil && !errors.Is(err, matchhistory.ErrNoHistory) {
		span.RecordError(err)
		ack(err)
		return fmt.Errorf("reading existing cache: %w", err)
	}

	merged := matchhistory.Merge(fresh, cached)

	if err := a.finalizer.Finalize(ctx, keys, merged, a.cfg.CacheTTL, a.cfg.Cooldown); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		ack(err)
		return fmt.Errorf("finalizing job: %w", err)
	}

	a.logger.Info(ctx, "Job aggregated and committed",
		"job_id", req.JobID, "player_id", req.Player.ID(),
		"fresh", len(fresh), "merged", len(merged))
	ack(nil)
	return nil
}
