package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrorStore keeps the most recent failure message for a player's job so the
// status surface can report it after the job itself is gone.
type ErrorStore struct {
	client *redis.Client
}

// NewErrorStore creates an error store on the shared client.
func NewErrorStore(client *redis.Client) *ErrorStore {
	return &ErrorStore{client: client}
}

// Set records a failure message with a bounded lifetime.
func (s *ErrorStore) Set(ctx context.Context, key, msg string, ttl time.Duration) error {
	if err := s.client.SetEx(ctx, key, msg, ttl).Err(); err != nil {
		return fmt.Errorf("recording job error %s: %w", key, err)
	}
	return nil
}

// Get returns the stored failure message. The bool is false when none exists.
func (s *ErrorStore) Get(ctx context.Context, key string) (string, bool, error) {
	msg, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading job error %s: %w", key, err)
	}
	return msg, true, nil
}

// Clear removes the stored failure message. Clearing an absent key is fine.
func (s *ErrorStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clearing job error %s: %w", key, err)
	}
	return nil
}
