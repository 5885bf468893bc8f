package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
)

// Hash fields of the aggregation state.
const (
	aggFieldTotal     = "total"
	aggFieldProcessed = "processed"
	aggFieldPlayer    = "player_id"
)

// AggregationStore tracks fan-in progress for one job: a bounded-TTL hash of
// {total, processed, player_id}. Processed only ever moves through HINCRBY so
// concurrent unit completions can never lose a count, and the transition to
// processed == total is observed by exactly one incrementer.
type AggregationStore struct {
	client *redis.Client
}

// NewAggregationStore creates an aggregation state store on the shared client.
func NewAggregationStore(client *redis.Client) *AggregationStore {
	return &AggregationStore{client: client}
}

// Create initializes the counter hash before any unit is enqueued, so a unit
// completion can never report progress against a nonexistent counter. The TTL
// bounds how long an abandoned job's state can linger.
func (s *AggregationStore) Create(ctx context.Context, aggKey, playerID string, total int, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, aggKey,
		aggFieldTotal, total,
		aggFieldProcessed, 0,
		aggFieldPlayer, playerID,
	)
	pipe.Expire(ctx, aggKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("creating aggregation state %s: %w", aggKey, err)
	}
	return nil
}

// IncrementProcessed atomically advances the processed counter and returns
// the post-increment value. It is called for every unit outcome, success or
// failure, so a permanently failing unit cannot stall the job.
func (s *AggregationStore) IncrementProcessed(ctx context.Context, aggKey string) (int64, error) {
	n, err := s.client.HIncrBy(ctx, aggKey, aggFieldProcessed, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing processed for %s: %w", aggKey, err)
	}
	return n, nil
}

// Total returns the unit count recorded at dispatch time, or 0 when no
// aggregation state exists for the key. Absence is how a stray unit learns
// its job already finished.
func (s *AggregationStore) Total(ctx context.Context, aggKey string) (int, error) {
	raw, err := s.client.HGet(ctx, aggKey, aggFieldTotal).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading total for %s: %w", aggKey, err)
	}
	total, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing total for %s: %w", aggKey, err)
	}
	return total, nil
}

// Snapshot returns the current aggregation state. The bool is false when no
// job is active for the key.
func (s *AggregationStore) Snapshot(ctx context.Context, aggKey string) (matchhistory.AggregationState, bool, error) {
	fields, err := s.client.HGetAll(ctx, aggKey).Result()
	if err != nil {
		return matchhistory.AggregationState{}, false, fmt.Errorf("reading aggregation state %s: %w", aggKey, err)
	}
	if len(fields) == 0 {
		return matchhistory.AggregationState{}, false, nil
	}

	total, _ := strconv.Atoi(fields[aggFieldTotal])
	processed, _ := strconv.Atoi(fields[aggFieldProcessed])

	return matchhistory.AggregationState{
		Total:     total,
		Processed: processed,
		PlayerID:  fields[aggFieldPlayer],
	}, true, nil
}
