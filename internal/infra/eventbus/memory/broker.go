// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for tests and
// single-process development where durability is not required. Delivery is
// synchronous: Publish returns after every registered handler has run.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
)

var _ events.EventBus = (*Broker)(nil)

// Broker dispatches published events directly to subscribed handlers.
type Broker struct {
	mu       sync.RWMutex
	handlers map[events.EventType][]events.HandlerFunc
	closed   bool
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[events.EventType][]events.HandlerFunc)}
}

// Publish delivers the event to every handler subscribed to its type. Handler
// errors are joined; each handler receives its own ack (which the in-memory
// transport ignores, since nothing is redelivered).
func (b *Broker) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var pParams events.PublishParams
	for _, opt := range opts {
		opt(&pParams)
	}
	if pParams.Key != "" {
		event.Key = pParams.Key
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("broker is closed")
	}
	handlers := make([]events.HandlerFunc, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event, func(error) {}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers the handler for each of the given event types.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker is closed")
	}
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], handler)
	}
	return nil
}

// Close drops all handlers and refuses further publishes.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType][]events.HandlerFunc)
	return nil
}
