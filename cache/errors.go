package cache

import "errors"

var (
	// ErrRedisNotAvailable is returned when a Redis backed feature runs without a client.
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired is returned when a distributed lock stays taken.
	ErrLockNotAcquired = errors.New("could not acquire distributed lock")

	// ErrKeyNotFound is a cache miss.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStaleEntry is returned when an entry was invalidated after it was read.
	ErrStaleEntry = errors.New("cache entry is stale")
)
