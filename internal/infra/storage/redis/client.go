// Package redis implements the coordination store on top of a shared Redis
// deployment: the per-player job lease, the post-completion cooldown gate,
// the global upstream admission gate, the fan-in aggregation counter, the
// per-job partial result accumulator, and the durable result cache.
//
// Redis is the single source of truth for all coordination state. Every
// multi-key transition that must be visible atomically goes through a
// transactional pipeline; nothing here does read-then-write across two round
// trips where concurrent writers are possible.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"

	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

// Config contains settings for connecting to the shared Redis deployment.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string
	// Password is optional auth for the server.
	Password string
	// DB selects the logical database.
	DB int
}

// Connect establishes a connection to Redis with exponential backoff. It will
// retry failed pings for up to 2 minutes, which covers store restarts during
// rolling deploys without failing worker startup.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 2 * time.Minute
	expBackoff.InitialInterval = time.Second

	operation := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn(ctx, "redis ping failed, retrying", "addr", cfg.Addr, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s after retries: %w", cfg.Addr, err)
	}

	log.Info(ctx, "Connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
