// Package progress publishes render progress to a shared, TTL'd key-value
// store so a reconnecting client can always read the last known state.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"

	// Running entries expire quickly; terminal entries linger so a client
	// reconnecting after the render finishes still sees the outcome.
	RunningTTL  = 5 * time.Minute
	TerminalTTL = 10 * time.Minute
)

// Snapshot is the stored progress state for one job. Time is elapsed media
// seconds while running; Code is the encoder exit code once terminal.
type Snapshot struct {
	Status    string    `json:"status"`
	Time      float64   `json:"time,omitempty"`
	Code      int       `json:"code,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Terminal reports whether the snapshot is final.
func (s Snapshot) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusError
}

// Store is the shared progress store. Writes are best-effort from the
// caller's point of view: the supervisor logs and swallows publish errors
// rather than failing the render.
type Store interface {
	PublishRunning(ctx context.Context, jobID string, seconds float64) error
	PublishTerminal(ctx context.Context, jobID string, ok bool, code int) error
	Get(ctx context.Context, jobID string) (Snapshot, bool, error)
}

func key(jobID string) string { return "job:" + jobID }

// RedisStore keeps snapshots in redis, namespaced per job id so concurrent
// jobs never contend on a key.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) PublishRunning(ctx context.Context, jobID string, seconds float64) error {
	return s.set(ctx, jobID, Snapshot{Status: StatusRunning, Time: seconds, UpdatedAt: time.Now().UTC()}, RunningTTL)
}

func (s *RedisStore) PublishTerminal(ctx context.Context, jobID string, ok bool, code int) error {
	status := StatusDone
	if !ok {
		status = StatusError
	}
	return s.set(ctx, jobID, Snapshot{Status: status, Code: code, UpdatedAt: time.Now().UTC()}, TerminalTTL)
}

func (s *RedisStore) set(ctx context.Context, jobID string, snap Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(jobID), data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (Snapshot, bool, error) {
	data, err := s.rdb.Get(ctx, key(jobID)).Result()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// MemoryStore is the in-process Store used in tests and single-node dev
// runs. Expiry is enforced lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	snap    Snapshot
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) PublishRunning(_ context.Context, jobID string, seconds float64) error {
	s.put(jobID, Snapshot{Status: StatusRunning, Time: seconds, UpdatedAt: time.Now().UTC()}, RunningTTL)
	return nil
}

func (s *MemoryStore) PublishTerminal(_ context.Context, jobID string, ok bool, code int) error {
	status := StatusDone
	if !ok {
		status = StatusError
	}
	s.put(jobID, Snapshot{Status: status, Code: code, UpdatedAt: time.Now().UTC()}, TerminalTTL)
	return nil
}

func (s *MemoryStore) put(jobID string, snap Snapshot, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(jobID)] = memoryEntry{snap: snap, expires: time.Now().Add(ttl)}
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(jobID)]
	if !ok {
		return Snapshot{}, false, nil
	}
	if time.Now().After(e.expires) {
		delete(s.entries, key(jobID))
		return Snapshot{}, false, nil
	}
	return e.snap, true, nil
}
