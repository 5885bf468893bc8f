package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

// UnitExecutor processes one FetchUnitRequested event: admission, fetch,
// partial append, progress increment. Progress advances even when the fetch
// fails, otherwise a single bad match would wedge the whole job short of its
// fan-in trigger. The unit whose increment lands exactly on the total
// publishes the aggregation trigger; under duplicate delivery the counter can
// overshoot, and the equality check keeps the trigger single-shot.
type UnitExecutor struct {
	upstream  UpstreamClient
	gate      AdmissionGate
	aggStore  AggregationStore
	partials  PartialResultStore
	publisher events.DomainEventPublisher
	cfg       Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewUnitExecutor creates the unit fetch handler.
func NewUnitExecutor(
	upstream UpstreamClient,
	gate AdmissionGate,
	aggStore AggregationStore,
	partials PartialResultStore,
	publisher events.DomainEventPublisher,
	cfg Config,
	log *logger.Logger,
	tracer trace.Tracer,
) *UnitExecutor {
	return &UnitExecutor{
		upstream:  upstream,
		gate:      gate,
		aggStore:  aggStore,
		partials:  partials,
		publisher: publisher,
		cfg:       cfg,
		logger:    log.With("component", "unit_executor"),
		tracer:    tracer,
	}
}

// HandleFetchUnitRequested processes a single match fetch unit.
func (e *UnitExecutor) HandleFetchUnitRequested(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	unit, ok := evt.Payload.(matchhistory.FetchUnitRequestedEvent)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Type)
		ack(nil)
		return err
	}

	ctx, span := e.tracer.Start(ctx, "unit_executor.handle_fetch_unit",
		trace.WithAttributes(
			attribute.String("job_id", unit.JobID.String()),
			attribute.String("match_id", unit.MatchID),
		))
	defer span.End()

	keys := unit.Player.Keys()

	// A unit arriving after the job has been finalized or aborted has
	// nothing to report against; incrementing would resurrect the counter
	// key as garbage.
	total, err := e.aggStore.Total(ctx, keys.Aggregation)
	if err != nil {
		ack(err)
		return fmt.Errorf("reading aggregation total: %w", err)
	}
	if total == 0 {
		e.logger.Warn(ctx, "Fetch unit arrived for a job with no aggregation state, dropping",
			"job_id", unit.JobID, "match_id", unit.MatchID)
		ack(nil)
		return nil
	}

	if err := e.fetchAndStage(ctx, unit, keys.PartialResults); err != nil {
		// A failed unit still counts toward completion. The match is
		// simply absent from the final merge.
		e.logger.Warn(ctx, "Unit fetch failed, counting unit as processed",
			"job_id", unit.JobID, "match_id", unit.MatchID, "error", err)
		span.RecordError(err)
	}

	processed, err := e.aggStore.IncrementProcessed(ctx, keys.Aggregation)
	if err != nil {
		// Increment did not land; redeliver so the job cannot stall one
		// unit short of its trigger.
		ack(err)
		return fmt.Errorf("incrementing processed count: %w", err)
	}

	if processed == int64(total) {
		// Redelivering this unit would increment past the total and lose
		// the trigger, so the publish is retried here rather than through
		// the queue.
		trigger := matchhistory.NewAggregationRequestedEvent(unit.JobID, unit.Player)
		publish := func() error {
			return e.publisher.PublishDomainEvent(ctx, trigger, events.WithKey(unit.Player.ID()))
		}
		if err := backoff.Retry(publish, backoff.WithContext(triggerBackoff(), ctx)); err != nil {
			e.logger.Error(ctx, "Failed to publish aggregation trigger, job will expire unfinished",
				"job_id", unit.JobID, "player_id", unit.Player.ID(), "error", err)
			span.RecordError(err)
			ack(nil)
			return fmt.Errorf("publishing aggregation trigger: %w", err)
		}
		e.logger.Info(ctx, "All units processed, aggregation triggered",
			"job_id", unit.JobID, "player_id", unit.Player.ID(), "total", total)
	}

	ack(nil)
	return nil
}

func triggerBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return b
}

func (e *UnitExecutor) fetchAndStage(ctx context.Context, unit matchhistory.FetchUnitRequestedEvent, partialsKey string) error {
	if err := e.gate.Admit(ctx); err != nil {
		return err
	}

	record, err := e.upstream.FetchMatch(ctx, unit.MatchID, unit.PUUID, unit.Player.Region)
	if err != nil {
		return err
	}
	if record == nil {
		// Player absent from the match. No partial to stage, but the unit
		// is done.
		return nil
	}

	return e.partials.Append(ctx, partialsKey, *record, e.cfg.PartialTTL)
}
