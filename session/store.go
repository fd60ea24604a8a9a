// Package session keeps the login state that ties a request to a user id.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/VdotR/polling-system/cache"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoSession means the token is unknown or expired.
var ErrNoSession = errors.New("session not found")

// Store creates, resolves and destroys session tokens.
type Store interface {
	Create(ctx context.Context, userID string) (string, error)
	Get(ctx context.Context, token string) (string, error)
	Destroy(ctx context.Context, token string) error
}

// RedisStore keeps sessions in Redis so every instance sees them. Reads
// extend the expiry, so active sessions do not lapse.
type RedisStore struct {
	client cache.RedisClient
	ttl    time.Duration
}

func NewRedisStore(client cache.RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return "session:" + token
}

func (s *RedisStore) Create(ctx context.Context, userID string) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, sessionKey(token), userID, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetEx(ctx, sessionKey(token), s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	return userID, err
}

func (s *RedisStore) Destroy(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}

type memoryEntry struct {
	userID  string
	expires time.Time
}

// MemoryStore is the single instance fallback used when Redis is not configured.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]memoryEntry
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, sessions: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, userID string) (string, error) {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.sessions[token] = memoryEntry{userID: userID, expires: s.now().Add(s.ttl)}
	return token, nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[token]
	if !ok {
		return "", ErrNoSession
	}
	if !s.now().Before(entry.expires) {
		delete(s.sessions, token)
		return "", ErrNoSession
	}
	entry.expires = s.now().Add(s.ttl)
	s.sessions[token] = entry
	return entry.userID, nil
}

func (s *MemoryStore) Destroy(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// sweep drops expired entries. Callers hold mu.
func (s *MemoryStore) sweep() {
	now := s.now()
	for token, entry := range s.sessions {
		if !now.Before(entry.expires) {
			delete(s.sessions, token)
		}
	}
}
