// Package trigger decides whether a fetch job may start for a player and, if
// so, claims the lease and hands the job to the queue. It is the only place
// where leases are acquired for the queue plane, which keeps the admission
// order in one spot: attach to a live job first, refuse on cooldown second,
// start fresh last.
package trigger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

// LeaseStore is the slice of the lease primitive the trigger needs.
type LeaseStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Held(ctx context.Context, key string) (bool, error)
}

// CooldownGate reports the post-completion re-trigger throttle.
type CooldownGate interface {
	Remaining(ctx context.Context, key string) (time.Duration, bool, error)
}

// ErrorStore clears the previous run's recorded failure.
type ErrorStore interface {
	Clear(ctx context.Context, key string) error
}

// Service admits job-start requests.
type Service struct {
	lease     LeaseStore
	cooldown  CooldownGate
	errs      ErrorStore
	publisher events.DomainEventPublisher
	leaseTTL  time.Duration

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates the trigger service.
func NewService(
	lease LeaseStore,
	cooldown CooldownGate,
	errs ErrorStore,
	publisher events.DomainEventPublisher,
	leaseTTL time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		lease:     lease,
		cooldown:  cooldown,
		errs:      errs,
		publisher: publisher,
		leaseTTL:  leaseTTL,
		logger:    log.With("component", "trigger"),
		tracer:    tracer,
	}
}

// Start requests a fetch job for the player. A job already holding the lease
// returns ErrJobInProgress so the caller can attach to it; an active cooldown
// returns a CooldownError with the remaining wait. Otherwise the lease is
// acquired and the job dispatched; if the dispatch publish fails the lease is
// released immediately so the player is not wedged for the full TTL.
func (s *Service) Start(ctx context.Context, ref player.Ref) error {
	if ref.IsZero() {
		return fmt.Errorf("incomplete player reference %q", ref)
	}
	keys := ref.Keys()

	ctx, span := s.tracer.Start(ctx, "trigger.start",
		trace.WithAttributes(attribute.String("player_id", ref.ID())))
	defer span.End()

	// Attach-first: a live job beats the cooldown check so a caller polling
	// right after triggering sees "in progress", not a refusal.
	if held, err := s.lease.Held(ctx, keys.Lock); err != nil {
		return fmt.Errorf("checking lease: %w", err)
	} else if held {
		return matchhistory.ErrJobInProgress
	}

	if remaining, active, err := s.cooldown.Remaining(ctx, keys.Cooldown); err != nil {
		return fmt.Errorf("checking cooldown: %w", err)
	} else if active {
		return &matchhistory.CooldownError{Remaining: remaining}
	}

	acquired, err := s.lease.Acquire(ctx, keys.Lock, s.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquiring lease: %w", err)
	}
	if !acquired {
		// Lost the race between the Held check and the acquire.
		return matchhistory.ErrJobInProgress
	}

	// A stale failure from the previous run would otherwise surface on the
	// status endpoint while this run is in flight.
	if err := s.errs.Clear(ctx, keys.Error); err != nil {
		s.logger.Warn(ctx, "Failed to clear previous job error",
			"player_id", ref.ID(), "error", err)
	}

	evt := matchhistory.NewFetchJobRequestedEvent(ref)
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(ref.ID())); err != nil {
		span.RecordError(err)
		if relErr := s.lease.Release(ctx, keys.Lock); relErr != nil {
			s.logger.Error(ctx, "Failed to release lease after publish failure, it will expire by TTL",
				"player_id", ref.ID(), "error", relErr)
		}
		return fmt.Errorf("dispatching fetch job: %w", err)
	}

	s.logger.Info(ctx, "Fetch job started", "player_id", ref.ID(), "job_id", evt.JobID)
	return nil
}
