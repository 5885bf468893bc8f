package status

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
	redisstore "github.com/Furkan-rgb/loltimeanalysis/internal/infra/storage/redis"
)

type testStores struct {
	mr       *miniredis.Miniredis
	client   *goredis.Client
	lease    *redisstore.Lease
	cooldown *redisstore.CooldownGate
	agg      *redisstore.AggregationStore
	results  *redisstore.ResultStore
	errs     *redisstore.ErrorStore
	reader   *Reader
}

func newStores(t *testing.T) *testStores {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lease := redisstore.NewLease(client)
	cooldown := redisstore.NewCooldownGate(client)
	agg := redisstore.NewAggregationStore(client)
	results := redisstore.NewResultStore(client)
	errs := redisstore.NewErrorStore(client)

	return &testStores{
		mr:       mr,
		client:   client,
		lease:    lease,
		cooldown: cooldown,
		agg:      agg,
		results:  results,
		errs:     errs,
		reader:   NewReader(cooldown, agg, lease, results, errs),
	}
}

func TestSnapshotNoData(t *testing.T) {
	s := newStores(t)
	ref := player.New("unknown", "tag", "euw")

	snap, err := s.reader.Snapshot(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, StateNoData, snap.State)
	assert.True(t, snap.Terminal())
}

func TestSnapshotCooldownBeatsEverything(t *testing.T) {
	s := newStores(t)
	ref := player.New("cooling", "tag", "euw")
	keys := ref.Keys()
	ctx := context.Background()

	require.NoError(t, s.cooldown.Set(ctx, keys.Cooldown, time.Minute))
	require.NoError(t, s.agg.Create(ctx, keys.Aggregation, ref.ID(), 10, time.Hour))

	snap, err := s.reader.Snapshot(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateCooldown, snap.State)
	assert.Greater(t, snap.Remaining, time.Duration(0))
}

func TestSnapshotProgress(t *testing.T) {
	s := newStores(t)
	ref := player.New("active", "tag", "euw")
	keys := ref.Keys()
	ctx := context.Background()

	require.NoError(t, s.agg.Create(ctx, keys.Aggregation, ref.ID(), 20, time.Hour))
	for i := 0; i < 7; i++ {
		_, err := s.agg.IncrementProcessed(ctx, keys.Aggregation)
		require.NoError(t, err)
	}

	snap, err := s.reader.Snapshot(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateUpdating, snap.State)
	assert.Equal(t, 7, snap.Processed)
	assert.Equal(t, 20, snap.Total)
	assert.False(t, snap.Terminal())
}

func TestSnapshotLeaseWithoutCounterIsStarting(t *testing.T) {
	s := newStores(t)
	ref := player.New("starting", "tag", "euw")
	ctx := context.Background()

	held, err := s.lease.Acquire(ctx, ref.Keys().Lock, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	snap, err := s.reader.Snapshot(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateUpdating, snap.State)
	assert.Zero(t, snap.Processed)
	assert.Zero(t, snap.Total)
}

func TestSnapshotReady(t *testing.T) {
	s := newStores(t)
	ref := player.New("cached", "tag", "euw")
	keys := ref.Keys()
	ctx := context.Background()

	records := []matchhistory.MatchRecord{{MatchID: "M1", Timestamp: 1000, Outcome: "Win", Champion: "Lux", Role: "MIDDLE"}}
	require.NoError(t, s.results.Replace(ctx, keys.Cache, records, time.Hour))

	snap, err := s.reader.Snapshot(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateReady, snap.State)
}

func TestSnapshotCarriesLastError(t *testing.T) {
	s := newStores(t)
	ref := player.New("failed", "tag", "euw")
	keys := ref.Keys()
	ctx := context.Background()

	require.NoError(t, s.errs.Set(ctx, keys.Error, "player not found", time.Hour))

	snap, err := s.reader.Snapshot(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateNoData, snap.State)
	assert.Equal(t, "player not found", snap.Err)
}
