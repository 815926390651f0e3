package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/redis"
)

// ErrSessionKeyNotFound is returned by a SessionStore when nothing is stored under a key.
var ErrSessionKeyNotFound = errors.New("session key not found")

// SessionStore persists small per-session blobs across engine restarts within a
// browsing session. Implementations must return ErrSessionKeyNotFound (or an error
// wrapping it) for absent keys.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// FreshnessKey is the store key for the fresh-reply map of one target in one session.
func FreshnessKey(sessionID string, target persist.Target) string {
	return fmt.Sprintf("fresh:%s:%s", sessionID, target.Key())
}

// MemorySessionStore keeps entries in process. It is meant for tests and local runs.
type MemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemorySessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrSessionKeyNotFound
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, ErrSessionKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemorySessionStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// RedisSessionStore adapts a redis cache to SessionStore.
type RedisSessionStore struct {
	cache *redis.Cache
}

func NewRedisSessionStore(cache *redis.Cache) *RedisSessionStore {
	return &RedisSessionStore{cache: cache}
}

func (r *RedisSessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.cache.Get(ctx, key)
	if err != nil {
		var notFound redis.ErrKeyNotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionKeyNotFound, key)
		}
		return nil, err
	}
	return b, nil
}

func (r *RedisSessionStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.cache.Set(ctx, key, value, ttl)
}
