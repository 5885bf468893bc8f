package trigger

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus/memory"
	redisstore "github.com/Furkan-rgb/loltimeanalysis/internal/infra/storage/redis"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

type failingPublisher struct{ err error }

func (p failingPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	return p.err
}

type fixture struct {
	mr       *miniredis.Miniredis
	lease    *redisstore.Lease
	cooldown *redisstore.CooldownGate
	errs     *redisstore.ErrorStore
	svc      *Service
	received *atomic.Int32
}

func newFixture(t *testing.T, publisher events.DomainEventPublisher) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lease := redisstore.NewLease(client)
	cooldown := redisstore.NewCooldownGate(client)
	errs := redisstore.NewErrorStore(client)
	log := logger.New(io.Discard, logger.LevelInfo, "trigger-test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")

	received := &atomic.Int32{}
	if publisher == nil {
		broker := memory.NewBroker()
		require.NoError(t, broker.Subscribe(context.Background(),
			[]events.EventType{matchhistory.EventTypeFetchJobRequested},
			func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
				received.Add(1)
				ack(nil)
				return nil
			}))
		publisher = eventbus.NewDomainPublisher(broker)
	}

	svc := NewService(lease, cooldown, errs, publisher, 5*time.Minute, log, tracer)
	return &fixture{mr: mr, lease: lease, cooldown: cooldown, errs: errs, svc: svc, received: received}
}

func TestStartAcquiresAndDispatches(t *testing.T) {
	f := newFixture(t, nil)
	ref := player.New("Summoner", "EUW1", "euw")
	keys := ref.Keys()

	require.NoError(t, f.svc.Start(context.Background(), ref))

	assert.True(t, f.mr.Exists(keys.Lock), "lease must be held after a successful start")
	assert.Equal(t, int32(1), f.received.Load(), "exactly one job event dispatched")
}

func TestStartClearsPreviousJobError(t *testing.T) {
	f := newFixture(t, nil)
	ref := player.New("retry", "tag", "euw")
	keys := ref.Keys()
	ctx := context.Background()

	require.NoError(t, f.errs.Set(ctx, keys.Error, "player not found", time.Hour))

	require.NoError(t, f.svc.Start(ctx, ref))

	_, found, err := f.errs.Get(ctx, keys.Error)
	require.NoError(t, err)
	assert.False(t, found, "a fresh run must not surface the previous run's failure")
}

func TestStartAttachesToRunningJob(t *testing.T) {
	f := newFixture(t, nil)
	ref := player.New("busy", "tag", "euw")
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, ref))

	err := f.svc.Start(ctx, ref)
	require.ErrorIs(t, err, matchhistory.ErrJobInProgress)
	assert.Equal(t, int32(1), f.received.Load(), "no second dispatch while the lease is live")
}

func TestStartRefusesDuringCooldown(t *testing.T) {
	f := newFixture(t, nil)
	ref := player.New("cooling", "tag", "euw")
	ctx := context.Background()

	require.NoError(t, f.cooldown.Set(ctx, ref.Keys().Cooldown, time.Minute))

	err := f.svc.Start(ctx, ref)
	var cdErr *matchhistory.CooldownError
	require.ErrorAs(t, err, &cdErr)
	assert.Greater(t, cdErr.Remaining, time.Duration(0))
	assert.Zero(t, f.received.Load())
}

func TestStartLiveJobBeatsCooldown(t *testing.T) {
	f := newFixture(t, nil)
	ref := player.New("both", "tag", "euw")
	ctx := context.Background()

	held, err := f.lease.Acquire(ctx, ref.Keys().Lock, time.Minute)
	require.NoError(t, err)
	require.True(t, held)
	require.NoError(t, f.cooldown.Set(ctx, ref.Keys().Cooldown, time.Minute))

	err = f.svc.Start(ctx, ref)
	require.ErrorIs(t, err, matchhistory.ErrJobInProgress, "a live lease reports in-progress, not a cooldown refusal")
}

func TestStartReleasesLeaseOnPublishFailure(t *testing.T) {
	pubErr := errors.New("broker unavailable")
	f := newFixture(t, failingPublisher{err: pubErr})
	ref := player.New("unlucky", "tag", "euw")
	keys := ref.Keys()

	err := f.svc.Start(context.Background(), ref)
	require.ErrorIs(t, err, pubErr)

	assert.False(t, f.mr.Exists(keys.Lock), "lease must be released when dispatch fails")
}

func TestStartRejectsIncompleteReference(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.Start(context.Background(), player.New("name", "", "euw"))
	require.Error(t, err)
	assert.Zero(t, f.received.Load())
}
