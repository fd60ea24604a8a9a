package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VdotR/polling-system/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLock_RunsAction(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	locks := NewDistributedLockService(client, 2*time.Second)

	ran := false
	err := locks.WithLock(context.Background(), "lock:poll:1", func() error {
		ran = true
		assert.True(t, srv.Exists("lock:poll:1"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, srv.Exists("lock:poll:1"))
}

func TestWithLock_PropagatesActionError(t *testing.T) {
	client, _ := testutil.SetupTestRedis(t)
	locks := NewDistributedLockService(client, 2*time.Second)

	boom := errors.New("boom")
	err := locks.WithLock(context.Background(), "lock:poll:2", func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWithLock_Serializes(t *testing.T) {
	client, _ := testutil.SetupTestRedis(t)
	locks := NewDistributedLockService(client, 2*time.Second)

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locks.WithLock(context.Background(), "lock:poll:3", func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
