package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/VdotR/polling-system/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// InitRedis connects to Redis. An empty address means Redis is disabled and
// (nil, nil) is returned; callers fall back to in-process implementations.
func InitRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		log.Info().Msg("REDIS_ADDR not set, running without Redis")
		return nil, nil
	}

	log.Info().Str("addr", cfg.Addr).Msg("connecting to Redis")
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 3 * time.Second,
		ReadTimeout: 3 * time.Second,
		PoolSize:    10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	log.Info().Msg("Redis connection ready")
	return client, nil
}

// CloseRedis closes client if it is non-nil.
func CloseRedis(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Error().Err(err).Msg("could not close Redis")
		return
	}
	log.Info().Msg("Redis connection closed")
}
