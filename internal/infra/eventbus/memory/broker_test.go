package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
)

const testType events.EventType = "TestEvent"

func TestPublishReachesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	ctx := context.Background()

	var got []string
	err := b.Subscribe(ctx, []events.EventType{testType}, func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		got = append(got, evt.Payload.(string))
		ack(nil)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, events.EventEnvelope{Type: testType, Payload: "hello"}))
	assert.Equal(t, []string{"hello"}, got)
}

func TestPublishWithKey(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	ctx := context.Background()

	var key string
	require.NoError(t, b.Subscribe(ctx, []events.EventType{testType}, func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		key = evt.Key
		ack(nil)
		return nil
	}))

	require.NoError(t, b.Publish(ctx, events.EventEnvelope{Type: testType}, events.WithKey("player-1")))
	assert.Equal(t, "player-1", key)
}

func TestPublishJoinsHandlerErrors(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	ctx := context.Background()

	boom := errors.New("boom")
	require.NoError(t, b.Subscribe(ctx, []events.EventType{testType}, func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		return boom
	}))

	err := b.Publish(ctx, events.EventEnvelope{Type: testType})
	assert.ErrorIs(t, err, boom)
}

func TestClosedBrokerRefusesPublish(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), events.EventEnvelope{Type: testType})
	assert.Error(t, err)
}
