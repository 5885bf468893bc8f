package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Furkan-rgb/loltimeanalysis/internal/app/status"
	"github.com/Furkan-rgb/loltimeanalysis/internal/app/trigger"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus/memory"
	redisstore "github.com/Furkan-rgb/loltimeanalysis/internal/infra/storage/redis"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

type apiFixture struct {
	mr      *miniredis.Miniredis
	srv     *httptest.Server
	lease   *redisstore.Lease
	cool    *redisstore.CooldownGate
	agg     *redisstore.AggregationStore
	results *redisstore.ResultStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.New(io.Discard, logger.LevelInfo, "api-test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")

	lease := redisstore.NewLease(client)
	cool := redisstore.NewCooldownGate(client)
	agg := redisstore.NewAggregationStore(client)
	results := redisstore.NewResultStore(client)
	errs := redisstore.NewErrorStore(client)

	broker := memory.NewBroker()
	require.NoError(t, broker.Subscribe(context.Background(),
		[]events.EventType{matchhistory.EventTypeFetchJobRequested},
		func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			ack(nil)
			return nil
		}))
	publisher := eventbus.NewDomainPublisher(broker)

	triggerSvc := trigger.NewService(lease, cool, errs, publisher, 5*time.Minute, log, tracer)
	reader := status.NewReader(cool, agg, lease, results, errs)

	server := NewServer(":0", log, tracer, triggerSvc, reader, results)
	server.streamPoll = 10 * time.Millisecond

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{mr: mr, srv: srv, lease: lease, cool: cool, agg: agg, results: results}
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestHistoryNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := get(t, f.srv.URL+"/v1/history/somebody/euw1?region=euw")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["detail"], "no match history")
}

func TestHistoryReturnsCachedRecords(t *testing.T) {
	f := newAPIFixture(t)
	ref := player.New("somebody", "euw1", "euw")

	records := []matchhistory.MatchRecord{
		{MatchID: "M2", Timestamp: 2000, Outcome: "Win", Champion: "Lux", Role: "MIDDLE"},
		{MatchID: "M1", Timestamp: 1000, Outcome: "Loss", Champion: "Lux", Role: "MIDDLE"},
	}
	require.NoError(t, f.results.Replace(context.Background(), ref.Keys().Cache, records, time.Hour))

	resp, err := http.Get(f.srv.URL + "/v1/history/Somebody/EUW1?region=euw")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []matchhistory.MatchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, records, got, "identity normalization must make casing irrelevant")
}

func TestHistoryRequiresRegion(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := get(t, f.srv.URL+"/v1/history/somebody/euw1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	url := f.srv.URL + "/v1/update/somebody/euw1?region=euw"

	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "started", body["status"])

	// Second trigger while the lease is live attaches instead of failing.
	resp2, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var body2 map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body2))
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "in_progress", body2["status"])
}

func TestUpdateDuringCooldown(t *testing.T) {
	f := newAPIFixture(t)
	ref := player.New("somebody", "euw1", "euw")
	require.NoError(t, f.cool.Set(context.Background(), ref.Keys().Cooldown, time.Minute))

	resp, err := http.Post(f.srv.URL+"/v1/update/somebody/euw1?region=euw", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "cooldown", body["status"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Greater(t, body["retry_after_seconds"].(float64), float64(0))
}

func TestStatusProgress(t *testing.T) {
	f := newAPIFixture(t)
	ref := player.New("somebody", "euw1", "euw")
	ctx := context.Background()

	resp, body := get(t, f.srv.URL+"/v1/status/somebody/euw1?region=euw")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no_data", body["status"])

	require.NoError(t, f.agg.Create(ctx, ref.Keys().Aggregation, ref.ID(), 10, time.Hour))
	for i := 0; i < 3; i++ {
		_, err := f.agg.IncrementProcessed(ctx, ref.Keys().Aggregation)
		require.NoError(t, err)
	}

	resp, body = get(t, f.srv.URL+"/v1/status/somebody/euw1?region=euw")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "updating", body["status"])
	assert.Equal(t, float64(3), body["processed"])
	assert.Equal(t, float64(10), body["total"])
}

func TestStatusStreamTerminatesOnTerminalState(t *testing.T) {
	f := newAPIFixture(t)
	ref := player.New("somebody", "euw1", "euw")
	ctx := context.Background()

	records := []matchhistory.MatchRecord{{MatchID: "M1", Timestamp: 1000, Outcome: "Win", Champion: "Zed", Role: "MIDDLE"}}
	require.NoError(t, f.results.Replace(ctx, ref.Keys().Cache, records, time.Hour))

	resp, err := http.Get(f.srv.URL + "/v1/status/somebody/euw1/stream?region=euw")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// A ready player is terminal immediately: one event, then EOF.
	scanner := bufio.NewScanner(resp.Body)
	var frames []string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, frames, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &payload))
	assert.Equal(t, "ready", payload["status"])
}
