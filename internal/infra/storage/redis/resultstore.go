package redis

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
)

// ResultStore is the durable, player-scoped cache of merged match records.
// The current encoding is a sorted set whose members are serialized records
// scored by match timestamp, read newest first. Data written by older workers
// as a single JSON blob must stay readable, so Read sniffs the stored shape
// instead of relying on a version field.
//
// Replace stages the new set under a scratch key and renames it into place in
// one pipelined batch, so a concurrent reader never observes an empty or
// half-written set.
type ResultStore struct {
	client *redis.Client
}

// NewResultStore creates a result cache on the shared client.
func NewResultStore(client *redis.Client) *ResultStore {
	return &ResultStore{client: client}
}

func stagingKey(cacheKey string) string { return cacheKey + ":staging" }

// stageReplace queues the full replace sequence onto an existing pipeline so
// the terminal job batch can include it atomically alongside cleanup.
func stageReplace(ctx context.Context, pipe redis.Pipeliner, cacheKey string, records []matchhistory.MatchRecord, ttl time.Duration) error {
	staging := stagingKey(cacheKey)

	members := make([]redis.Z, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", rec.MatchID, err)
		}
		members = append(members, redis.Z{Score: float64(rec.Timestamp), Member: string(data)})
	}

	pipe.Del(ctx, staging)
	pipe.ZAdd(ctx, staging, members...)
	pipe.Expire(ctx, staging, ttl)
	pipe.Rename(ctx, staging, cacheKey)
	return nil
}

// Replace atomically swaps the cached set for cacheKey with records. The TTL
// is refreshed on every successful write. Empty record sets are rejected;
// callers decide what an empty outcome means, the cache never stores one.
func (s *ResultStore) Replace(ctx context.Context, cacheKey string, records []matchhistory.MatchRecord, ttl time.Duration) error {
	if len(records) == 0 {
		return fmt.Errorf("refusing to replace %s with an empty record set", cacheKey)
	}

	pipe := s.client.TxPipeline()
	if err := stageReplace(ctx, pipe, cacheKey, records, ttl); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing cache %s: %w", cacheKey, err)
	}
	return nil
}

// Read returns the cached record set newest first, decoding whichever
// historical encoding the key holds. ErrNoHistory is returned when nothing is
// cached.
func (s *ResultStore) Read(ctx context.Context, cacheKey string) ([]matchhistory.MatchRecord, error) {
	keyType, err := s.client.Type(ctx, cacheKey).Result()
	if err != nil {
		return nil, fmt.Errorf("inspecting cache %s: %w", cacheKey, err)
	}

	switch keyType {
	case "zset":
		members, err := s.client.ZRevRange(ctx, cacheKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("reading cache %s: %w", cacheKey, err)
		}
		if len(members) == 0 {
			return nil, matchhistory.ErrNoHistory
		}

		records := make([]matchhistory.MatchRecord, 0, len(members))
		for _, m := range members {
			var rec matchhistory.MatchRecord
			if err := json.Unmarshal([]byte(m), &rec); err != nil {
				return nil, fmt.Errorf("decoding cached record in %s: %w", cacheKey, err)
			}
			records = append(records, rec)
		}
		return records, nil

	case "string":
		// Legacy format: the whole set as one JSON array.
		blob, err := s.client.Get(ctx, cacheKey).Result()
		if err != nil {
			return nil, fmt.Errorf("reading legacy cache %s: %w", cacheKey, err)
		}
		var records []matchhistory.MatchRecord
		if err := json.Unmarshal([]byte(blob), &records); err != nil {
			return nil, fmt.Errorf("decoding legacy cache %s: %w", cacheKey, err)
		}
		if len(records) == 0 {
			return nil, matchhistory.ErrNoHistory
		}
		return records, nil

	case "none":
		return nil, matchhistory.ErrNoHistory

	default:
		return nil, fmt.Errorf("cache %s has unexpected type %q", cacheKey, keyType)
	}
}

// Exists reports whether anything is cached for the key.
func (s *ResultStore) Exists(ctx context.Context, cacheKey string) (bool, error) {
	n, err := s.client.Exists(ctx, cacheKey).Result()
	if err != nil {
		return false, fmt.Errorf("checking cache %s: %w", cacheKey, err)
	}
	return n > 0, nil
}

// IDsPresent returns the match ids already cached for the key, decoding only
// the id field of each member. Used to diff "already cached" from "needs
// fetch" without deserializing full records.
func (s *ResultStore) IDsPresent(ctx context.Context, cacheKey string) (map[string]struct{}, error) {
	keyType, err := s.client.Type(ctx, cacheKey).Result()
	if err != nil {
		return nil, fmt.Errorf("inspecting cache %s: %w", cacheKey, err)
	}

	ids := make(map[string]struct{})

	switch keyType {
	case "zset":
		members, err := s.client.ZRange(ctx, cacheKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning cache %s: %w", cacheKey, err)
		}
		for _, m := range members {
			if id := jsoniter.Get([]byte(m), "match_id").ToString(); id != "" {
				ids[id] = struct{}{}
			}
		}

	case "string":
		blob, err := s.client.Get(ctx, cacheKey).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning legacy cache %s: %w", cacheKey, err)
		}
		iter := jsoniter.Get([]byte(blob))
		for i := 0; i < iter.Size(); i++ {
			if id := iter.Get(i, "match_id").ToString(); id != "" {
				ids[id] = struct{}{}
			}
		}

	case "none":
		// Nothing cached yet.

	default:
		return nil, fmt.Errorf("cache %s has unexpected type %q", cacheKey, keyType)
	}

	return ids, nil
}
