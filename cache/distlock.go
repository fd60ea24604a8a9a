package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DistributedLockService serializes work across service instances with redsync.
type DistributedLockService struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// NewDistributedLockService builds a lock service over client.
func NewDistributedLockService(client redis.UniversalClient, expiry time.Duration) *DistributedLockService {
	pool := goredis.NewPool(client)
	return &DistributedLockService{rs: redsync.New(pool), expiry: expiry}
}

// AcquireLock takes lockName, retrying briefly before giving up.
func (s *DistributedLockService) AcquireLock(ctx context.Context, lockName string) (*redsync.Mutex, error) {
	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(s.expiry),
		redsync.WithTries(20),
		redsync.WithRetryDelay(25*time.Millisecond),
		redsync.WithDriftFactor(0.01),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, lockName, err)
	}
	return mutex, nil
}

// ReleaseLock releases mutex.
func (s *DistributedLockService) ReleaseLock(ctx context.Context, mutex *redsync.Mutex) (bool, error) {
	return mutex.UnlockContext(ctx)
}

// WithLock runs action while holding lockName.
func (s *DistributedLockService) WithLock(ctx context.Context, lockName string, action func() error) error {
	mutex, err := s.AcquireLock(ctx, lockName)
	if err != nil {
		return err
	}

	defer func() {
		// A background context so a cancelled request still releases the lock.
		if _, err := s.ReleaseLock(context.Background(), mutex); err != nil {
			log.Warn().Err(err).Str("lock", lockName).Msg("could not release lock")
		}
	}()

	return action()
}
