// Package state persists per-table replication watermarks. The whole mapping
// lives in one serialized blob in the checkpoint store, so every update is a
// read-modify-write of that blob.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/redis"
)

// Storage reads and writes the full state mapping.
type Storage interface {
	Retrieve(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, mapping map[string]string) error
}

// KV is the subset of a key-value client the Redis adapter needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

// RedisStorage keeps the mapping as a JSON object under a single key.
type RedisStorage struct {
	client KV
	key    string
}

func NewRedisStorage(client KV, key string) *RedisStorage {
	return &RedisStorage{client: client, key: key}
}

func (s *RedisStorage) Retrieve(ctx context.Context) (map[string]string, error) {
	raw, err := s.client.Get(ctx, s.key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrStorageUnavailable, s.key, err)
	}
	mapping := map[string]string{}
	if raw == "" {
		return mapping, nil
	}
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", apperrors.ErrStorageUnavailable, s.key, err)
	}
	return mapping, nil
}

func (s *RedisStorage) Save(ctx context.Context, mapping map[string]string) error {
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("%w: writing %s: %w", apperrors.ErrStorageUnavailable, s.key, err)
	}
	return nil
}

// MemoryStorage keeps the mapping in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	mapping map[string]string
	writes  int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{mapping: map[string]string{}}
}

func (m *MemoryStorage) Retrieve(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.mapping), nil
}

func (m *MemoryStorage) Save(_ context.Context, mapping map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapping = maps.Clone(mapping)
	m.writes++
	return nil
}

// Writes returns the number of Save calls.
func (m *MemoryStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
