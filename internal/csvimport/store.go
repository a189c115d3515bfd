package csvimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL bounds how long an abandoned wizard is kept.
const DefaultSessionTTL = 30 * time.Minute

// Store parks wizards between requests.
type Store interface {
	Get(ctx context.Context, id string) (*Wizard, error)
	Save(ctx context.Context, id string, w *Wizard) error
	Delete(ctx context.Context, id string) error
}

// SessionLocker is implemented by stores shared between processes. The
// returned func releases the lock.
type SessionLocker interface {
	LockSession(ctx context.Context, id string) (func(), error)
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore keeps serialised wizards in a map.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store; ttl <= 0 uses DefaultSessionTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Wizard, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok && !s.now().Before(entry.expires) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	w := &Wizard{}
	if err := json.Unmarshal(entry.data, w); err != nil {
		return nil, fmt.Errorf("csvimport: decode session: %w", err)
	}
	return w, nil
}

func (s *MemoryStore) Save(_ context.Context, id string, w *Wizard) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("csvimport: encode session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{data: data, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

const sessionKeyPrefix = "stockroom:import:"

// RedisStore keeps wizards as JSON strings with an expiry.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store; ttl <= 0 uses DefaultSessionTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Wizard, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("csvimport: load session: %w", err)
	}
	w := &Wizard{}
	if err := json.Unmarshal(payload, w); err != nil {
		return nil, fmt.Errorf("csvimport: decode session: %w", err)
	}
	return w, nil
}

func (s *RedisStore) Save(ctx context.Context, id string, w *Wizard) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("csvimport: encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+id, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("csvimport: save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("csvimport: delete session: %w", err)
	}
	return nil
}

const (
	sessionLockPrefix = "stockroom:import-lock:"
	// sessionLockTTL outlives the catalog client's request timeout.
	sessionLockTTL  = 2 * time.Minute
	sessionLockPoll = 50 * time.Millisecond
)

// releaseSessionLock deletes the lock only while it still carries our token.
var releaseSessionLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LockSession takes a SETNX lock on id, polling until it is free or ctx ends.
func (s *RedisStore) LockSession(ctx context.Context, id string) (func(), error) {
	key := sessionLockPrefix + id
	token := uuid.NewString()
	ticker := time.NewTicker(sessionLockPoll)
	defer ticker.Stop()
	for {
		ok, err := s.client.SetNX(ctx, key, token, sessionLockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrSessionBusy, ctx.Err())
			}
			return nil, fmt.Errorf("csvimport: lock session: %w", err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = releaseSessionLock.Run(releaseCtx, s.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrSessionBusy, ctx.Err())
		case <-ticker.C:
		}
	}
}
