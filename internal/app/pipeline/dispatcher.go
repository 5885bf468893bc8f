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

// Dispatcher turns one FetchJobRequested event into the job's unit fan-out.
// It owns the enumeration phase: resolving the player, paginating the match
// id listing under the admission gate, creating the fan-in counter, and
// publishing one fetch unit per match. The lease is already held when the
// event arrives; on any dispatch failure the dispatcher records the error and
// releases it so the player is not wedged.
type Dispatcher struct {
	upstream  UpstreamClient
	gate      AdmissionGate
	aggStore  AggregationStore
	finalizer Finalizer
	publisher events.DomainEventPublisher
	cfg       Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDispatcher creates the dispatch handler.
func NewDispatcher(
	upstream UpstreamClient,
	gate AdmissionGate,
	aggStore AggregationStore,
	finalizer Finalizer,
	publisher events.DomainEventPublisher,
	cfg Config,
	log *logger.Logger,
	tracer trace.Tracer,
) *Dispatcher {
	return &Dispatcher{
		upstream:  upstream,
		gate:      gate,
		aggStore:  aggStore,
		finalizer: finalizer,
		publisher: publisher,
		cfg:       cfg,
		logger:    log.With("component", "dispatcher"),
		tracer:    tracer,
	}
}

// HandleFetchJobRequested processes one job dispatch. The event is always
// acknowledged without redelivery: a failed dispatch is recorded against the
// job's error key and the lease released, which is a terminal outcome the
// caller can observe and retry explicitly.
func (d *Dispatcher) HandleFetchJobRequested(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	job, ok := evt.Payload.(matchhistory.FetchJobRequestedEvent)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Type)
		ack(nil)
		return err
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.handle_fetch_job",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID.String()),
			attribute.String("player_id", job.Player.ID()),
		))
	defer span.End()

	if err := d.dispatch(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		d.logger.Error(ctx, "Job dispatch failed",
			"job_id", job.JobID, "player_id", job.Player.ID(), "error", err)

		keys := job.Player.Keys()
		if abortErr := d.finalizer.Abort(ctx, keys, userFacing(err), d.cfg.ErrorTTL); abortErr != nil {
			d.logger.Error(ctx, "Failed to abort job after dispatch failure",
				"job_id", job.JobID, "error", abortErr)
		}
	}

	ack(nil)
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, job matchhistory.FetchJobRequestedEvent) error {
	ref := job.Player
	keys := ref.Keys()

	if err := d.gate.Admit(ctx); err != nil {
		return fmt.Errorf("admission before identity resolution: %w", err)
	}
	puuid, err := d.upstream.ResolveIdentity(ctx, ref.GameName, ref.TagLine, ref.Region)
	if err != nil {
		return err
	}

	matchIDs, err := d.enumerate(ctx, puuid, ref.Region)
	if err != nil {
		return fmt.Errorf("enumerating matches: %w", err)
	}

	if len(matchIDs) == 0 {
		d.logger.Info(ctx, "Player has no ranked history, completing job without cache write",
			"job_id", job.JobID, "player_id", ref.ID())
		return d.finalizer.FinalizeEmpty(ctx, keys)
	}

	// The counter must exist before the first unit can possibly report
	// completion against it.
	if err := d.aggStore.Create(ctx, keys.Aggregation, ref.ID(), len(matchIDs), d.cfg.AggregationTTL); err != nil {
		return fmt.Errorf("creating aggregation state: %w", err)
	}

	for _, matchID := range matchIDs {
		unit := matchhistory.NewFetchUnitRequestedEvent(job.JobID, matchID, puuid, ref)
		if err := d.publisher.PublishDomainEvent(ctx, unit, events.WithKey(ref.ID())); err != nil {
			return fmt.Errorf("publishing fetch unit %s: %w", matchID, err)
		}
	}

	d.logger.Info(ctx, "Job dispatched",
		"job_id", job.JobID, "player_id", ref.ID(), "units", len(matchIDs))
	return nil
}

// enumerate pages through the match id listing until the configured cap or a
// short page. Every page transition passes the admission gate so enumeration
// competes for the same quota as unit fetches.
func (d *Dispatcher) enumerate(ctx context.Context, puuid, region string) ([]string, error) {
	var all []string
	for len(all) < d.cfg.GamesToFetch {
		remaining := d.cfg.GamesToFetch - len(all)

		if err := d.gate.Admit(ctx); err != nil {
			return nil, err
		}
		page, err := d.upstream.ListMatchIDs(ctx, puuid, remaining, len(all), region)
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

// userFacing maps an internal error to the message stored against the job's
// error key. Sentinel errors get their stable message; everything else is
// reported generically to avoid leaking transport details.
func userFacing(err error) string {
	switch {
	case errors.Is(err, matchhistory.ErrPlayerNotFound):
		return matchhistory.ErrPlayerNotFound.Error()
	case errors.Is(err, matchhistory.ErrAdmissionTimeout):
		return matchhistory.ErrAdmissionTimeout.Error()
	case errors.Is(err, matchhistory.ErrLeaseLost):
		return matchhistory.ErrLeaseLost.Error()
	default:
		return "fetch job failed"
	}
}
