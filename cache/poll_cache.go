package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/VdotR/polling-system/models"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPollTTL = 10 * time.Minute
	// jitterFactor spreads expirations so hot polls do not expire together.
	jitterFactor = 0.2
	// generationTTL only has to outlive a database read.
	generationTTL = time.Hour
)

// PollCache stores serialized polls and short id lookups in Redis.
type PollCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewPollCache(client RedisClient, ttl time.Duration) *PollCache {
	if ttl <= 0 {
		ttl = defaultPollTTL
	}
	return &PollCache{client: client, ttl: ttl}
}

func pollKey(id string) string {
	return "poll:" + id
}

func shortKey(code string) string {
	return "poll:short:" + code
}

// generationKey counts invalidations of one poll. Read-through fills compare
// it before writing so a read that raced a write cannot repopulate old data.
func generationKey(id string) string {
	return "poll:gen:" + id
}

func (c *PollCache) expiration() time.Duration {
	jitter := time.Duration(float64(c.ttl) * jitterFactor * rand.Float64())
	return c.ttl + jitter
}

// GetPoll returns the cached poll or ErrKeyNotFound.
func (c *PollCache) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	if c.client == nil {
		return nil, ErrRedisNotAvailable
	}
	data, err := c.client.Get(ctx, pollKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	var poll models.Poll
	if err := json.Unmarshal(data, &poll); err != nil {
		return nil, fmt.Errorf("decode cached poll %s: %w", id, err)
	}
	// PollID is not serialized; restore it so callers get a complete value.
	for i := range poll.Responses {
		poll.Responses[i].PollID = poll.ID
	}
	return &poll, nil
}

// SetPoll caches poll and, when it has one, its short id mapping.
func (c *PollCache) SetPoll(ctx context.Context, poll *models.Poll) error {
	if c.client == nil {
		return ErrRedisNotAvailable
	}
	data, err := json.Marshal(poll)
	if err != nil {
		return err
	}

	pipe := c.client.Pipeline()
	c.queueSet(ctx, pipe, poll, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Generation returns the invalidation count of id. Read it before loading
// the poll from the database and pass it to SetPollIfCurrent.
func (c *PollCache) Generation(ctx context.Context, id string) (int64, error) {
	if c.client == nil {
		return 0, ErrRedisNotAvailable
	}
	gen, err := c.client.Get(ctx, generationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetPollIfCurrent caches poll only if nothing invalidated it since gen was
// read, and returns ErrStaleEntry otherwise.
func (c *PollCache) SetPollIfCurrent(ctx context.Context, poll *models.Poll, gen int64) error {
	if c.client == nil {
		return ErrRedisNotAvailable
	}
	data, err := json.Marshal(poll)
	if err != nil {
		return err
	}

	key := generationKey(poll.ID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return ErrStaleEntry
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			c.queueSet(ctx, pipe, poll, data)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleEntry
	}
	return err
}

func (c *PollCache) queueSet(ctx context.Context, pipe redis.Pipeliner, poll *models.Poll, data []byte) {
	pipe.Set(ctx, pollKey(poll.ID), data, c.expiration())
	if poll.ShortID != nil {
		pipe.Set(ctx, shortKey(*poll.ShortID), poll.ID, c.expiration())
	}
}

// GetPollIDByShortID resolves a cached short id or returns ErrKeyNotFound.
func (c *PollCache) GetPollIDByShortID(ctx context.Context, code string) (string, error) {
	if c.client == nil {
		return "", ErrRedisNotAvailable
	}
	id, err := c.client.Get(ctx, shortKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return id, err
}

// Invalidate drops the poll entry and any short id mappings given, and bumps
// the poll's generation so in-flight read-through fills are discarded.
func (c *PollCache) Invalidate(ctx context.Context, id string, codes ...string) error {
	if c.client == nil {
		return ErrRedisNotAvailable
	}
	keys := []string{pollKey(id)}
	for _, code := range codes {
		if code != "" {
			keys = append(keys, shortKey(code))
		}
	}

	pipe := c.client.Pipeline()
	pipe.Incr(ctx, generationKey(id))
	pipe.Expire(ctx, generationKey(id), generationTTL)
	pipe.Del(ctx, keys...)
	_, err := pipe.Exec(ctx)
	return err
}
