package redis

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PartialResultStore accumulates per-unit fetch output for one in-flight job
// as an order-preserving list of serialized records. Its lifetime is bounded
// by the job: every append refreshes the same TTL the aggregation state uses,
// and the terminal pipeline deletes the whole list.
type PartialResultStore struct {
	client *redis.Client
}

// NewPartialResultStore creates a partial result accumulator on the shared client.
func NewPartialResultStore(client *redis.Client) *PartialResultStore {
	return &PartialResultStore{client: client}
}

// Append stores one fetched record for the job. Appends from sibling units
// may interleave in any order; ordering is imposed at aggregation time.
func (s *PartialResultStore) Append(ctx context.Context, key string, rec matchhistory.MatchRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding partial result for %s: %w", key, err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending partial result to %s: %w", key, err)
	}
	return nil
}

// List returns every accumulated record for the job in append order.
func (s *PartialResultStore) List(ctx context.Context, key string) ([]matchhistory.MatchRecord, error) {
	members, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading partial results %s: %w", key, err)
	}

	records := make([]matchhistory.MatchRecord, 0, len(members))
	for _, m := range members {
		var rec matchhistory.MatchRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("decoding partial result in %s: %w", key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
