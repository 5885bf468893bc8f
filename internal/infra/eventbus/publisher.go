// Package eventbus provides shared glue between the domain event ports and
// the concrete bus implementations.
package eventbus

import (
	"context"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
)

var _ events.DomainEventPublisher = (*DomainPublisher)(nil)

// DomainPublisher adapts an EventBus to the DomainEventPublisher port so
// application services can publish self-describing domain events without
// building envelopes by hand.
type DomainPublisher struct {
	bus events.EventBus
}

// NewDomainPublisher creates a publisher over the given bus.
func NewDomainPublisher(bus events.EventBus) *DomainPublisher {
	return &DomainPublisher{bus: bus}
}

// PublishDomainEvent wraps the event in an envelope and publishes it.
func (p *DomainPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	env := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return p.bus.Publish(ctx, env, opts...)
}
