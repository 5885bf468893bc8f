package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
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

type fakeUpstream struct {
	puuid      string
	ids        []string
	matches    map[string]matchhistory.MatchRecord
	failIDs    map[string]bool
	resolveErr error
}

func (f *fakeUpstream) ResolveIdentity(ctx context.Context, gameName, tagLine, region string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.puuid, nil
}

func (f *fakeUpstream) ListMatchIDs(ctx context.Context, puuid string, count, start int, region string) ([]string, error) {
	if start >= len(f.ids) {
		return nil, nil
	}
	end := start + count
	if end > len(f.ids) {
		end = len(f.ids)
	}
	return f.ids[start:end], nil
}

func (f *fakeUpstream) FetchMatch(ctx context.Context, matchID, puuid, region string) (*matchhistory.MatchRecord, error) {
	if f.failIDs[matchID] {
		return nil, errors.New("upstream unavailable")
	}
	rec, ok := f.matches[matchID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// openGate admits every caller immediately. The distributed gate has its own
// tests against the store.
type openGate struct{}

func (openGate) Admit(ctx context.Context) error { return nil }

type pipelineHarness struct {
	mr       *miniredis.Miniredis
	client   *goredis.Client
	broker   *memory.Broker
	upstream *fakeUpstream
	lease    *redisstore.Lease
	results  *redisstore.ResultStore
	errs     *redisstore.ErrorStore
	cfg      Config
}

func newHarness(t *testing.T, upstream *fakeUpstream) *pipelineHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.New(io.Discard, logger.LevelInfo, "pipeline-test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")

	cfg := Config{
		GamesToFetch:   500,
		AggregationTTL: time.Hour,
		PartialTTL:     time.Hour,
		CacheTTL:       24 * time.Hour,
		Cooldown:       time.Minute,
		ErrorTTL:       time.Hour,
	}

	broker := memory.NewBroker()
	publisher := eventbus.NewDomainPublisher(broker)

	aggStore := redisstore.NewAggregationStore(client)
	partials := redisstore.NewPartialResultStore(client)
	results := redisstore.NewResultStore(client)
	finalizer := redisstore.NewJobFinalizer(client)

	dispatcher := NewDispatcher(upstream, openGate{}, aggStore, finalizer, publisher, cfg, log, tracer)
	executor := NewUnitExecutor(upstream, openGate{}, aggStore, partials, publisher, cfg, log, tracer)
	aggregator := NewAggregator(partials, results, finalizer, cfg, log, tracer)

	ctx := context.Background()
	require.NoError(t, broker.Subscribe(ctx,
		[]events.EventType{matchhistory.EventTypeFetchJobRequested}, dispatcher.HandleFetchJobRequested))
	require.NoError(t, broker.Subscribe(ctx,
		[]events.EventType{matchhistory.EventTypeFetchUnitRequested}, executor.HandleFetchUnitRequested))
	require.NoError(t, broker.Subscribe(ctx,
		[]events.EventType{matchhistory.EventTypeAggregationRequested}, aggregator.HandleAggregationRequested))

	return &pipelineHarness{
		mr:       mr,
		client:   client,
		broker:   broker,
		upstream: upstream,
		lease:    redisstore.NewLease(client),
		results:  results,
		errs:     redisstore.NewErrorStore(client),
		cfg:      cfg,
	}
}

// startJob acquires the lease the way the trigger service would, then injects
// the dispatch event. The in-memory broker runs the whole pipeline before
// returning.
func (h *pipelineHarness) startJob(t *testing.T, ref player.Ref) {
	t.Helper()
	ctx := context.Background()

	held, err := h.lease.Acquire(ctx, ref.Keys().Lock, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	publisher := eventbus.NewDomainPublisher(h.broker)
	evt := matchhistory.NewFetchJobRequestedEvent(ref)
	require.NoError(t, publisher.PublishDomainEvent(ctx, evt))
}

func recordFor(id string, ts int64, champion string) matchhistory.MatchRecord {
	return matchhistory.MatchRecord{
		MatchID:   id,
		Timestamp: ts,
		Outcome:   "Win",
		Champion:  champion,
		Role:      "MIDDLE",
	}
}

func TestPipelineCompletesEndToEnd(t *testing.T) {
	upstream := &fakeUpstream{
		puuid:   "puuid-1",
		ids:     []string{"M5", "M4", "M3", "M2", "M1"},
		matches: map[string]matchhistory.MatchRecord{},
	}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("M%d", i)
		upstream.matches[id] = recordFor(id, int64(i*1000), "Ahri")
	}

	h := newHarness(t, upstream)
	ref := player.New("Hide on bush", "KR1", "kr")
	keys := ref.Keys()

	h.startJob(t, ref)

	ctx := context.Background()
	records, err := h.results.Read(ctx, keys.Cache)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i := 1; i < len(records); i++ {
		assert.GreaterOrEqual(t, records[i-1].Timestamp, records[i].Timestamp, "cache must be newest first")
	}

	assert.False(t, h.mr.Exists(keys.Lock), "lease must be released")
	assert.True(t, h.mr.Exists(keys.Cooldown), "cooldown must be set after completion")
	assert.False(t, h.mr.Exists(keys.Aggregation), "aggregation counter must be cleaned up")
	assert.False(t, h.mr.Exists(keys.PartialResults), "partial results must be cleaned up")
}

func TestPipelineNoMatchesReleasesWithoutCooldown(t *testing.T) {
	upstream := &fakeUpstream{puuid: "puuid-1"}
	h := newHarness(t, upstream)
	ref := player.New("fresh", "acct", "euw")
	keys := ref.Keys()

	h.startJob(t, ref)

	assert.False(t, h.mr.Exists(keys.Lock), "lease must be released")
	assert.False(t, h.mr.Exists(keys.Cooldown), "no cooldown for an empty history")
	assert.False(t, h.mr.Exists(keys.Cache))
}

func TestPipelinePlayerNotFoundRecordsError(t *testing.T) {
	upstream := &fakeUpstream{resolveErr: matchhistory.ErrPlayerNotFound}
	h := newHarness(t, upstream)
	ref := player.New("ghost", "na1", "na")
	keys := ref.Keys()

	h.startJob(t, ref)

	msg, found, err := h.errs.Get(context.Background(), keys.Error)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, matchhistory.ErrPlayerNotFound.Error(), msg)

	assert.False(t, h.mr.Exists(keys.Lock), "lease must be released on dispatch failure")
	assert.False(t, h.mr.Exists(keys.Cooldown), "no cooldown on failure")
}

func TestPipelineFailedUnitStillCompletesJob(t *testing.T) {
	upstream := &fakeUpstream{
		puuid: "puuid-1",
		ids:   []string{"M1", "M2", "M3"},
		matches: map[string]matchhistory.MatchRecord{
			"M1": recordFor("M1", 1000, "Jinx"),
			"M3": recordFor("M3", 3000, "Jinx"),
		},
		failIDs: map[string]bool{"M2": true},
	}
	h := newHarness(t, upstream)
	ref := player.New("flaky", "euw1", "euw")
	keys := ref.Keys()

	h.startJob(t, ref)

	records, err := h.results.Read(context.Background(), keys.Cache)
	require.NoError(t, err)
	assert.Len(t, records, 2, "failed unit contributes nothing but does not block completion")
	assert.False(t, h.mr.Exists(keys.Lock))
	assert.True(t, h.mr.Exists(keys.Cooldown))
}

func TestPipelineMergePreservesOlderCachedMatches(t *testing.T) {
	upstream := &fakeUpstream{
		puuid: "puuid-1",
		ids:   []string{"M2"},
		matches: map[string]matchhistory.MatchRecord{
			"M2": recordFor("M2", 2000, "Updated"),
		},
	}
	h := newHarness(t, upstream)
	ref := player.New("veteran", "euw1", "euw")
	keys := ref.Keys()

	// Seed a cache holding an old match outside the fetch window and a stale
	// copy of the one being re-fetched.
	seed := []matchhistory.MatchRecord{
		recordFor("M2", 2000, "Stale"),
		recordFor("M1", 1000, "Ancient"),
	}
	require.NoError(t, h.results.Replace(context.Background(), keys.Cache, seed, time.Hour))

	h.startJob(t, ref)

	records, err := h.results.Read(context.Background(), keys.Cache)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "M2", records[0].MatchID)
	assert.Equal(t, "Updated", records[0].Champion, "fresh record wins over the cached duplicate")
	assert.Equal(t, "M1", records[1].MatchID, "cached match outside the window survives the merge")
}

func TestUnitWithoutAggregationStateIsDropped(t *testing.T) {
	upstream := &fakeUpstream{puuid: "puuid-1"}
	h := newHarness(t, upstream)
	ref := player.New("late", "euw1", "euw")
	keys := ref.Keys()

	// A unit surviving in the queue after its job was finalized.
	publisher := eventbus.NewDomainPublisher(h.broker)
	evt := matchhistory.NewFetchUnitRequestedEvent(
		matchhistory.NewFetchJobRequestedEvent(ref).JobID, "M_OLD", "puuid-1", ref)
	require.NoError(t, publisher.PublishDomainEvent(context.Background(), evt))

	assert.False(t, h.mr.Exists(keys.Aggregation), "dropping a stray unit must not resurrect the counter")
}
