package token

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/clock"
	"gatekeeper/internal/model"

	"github.com/redis/go-redis/v9"
)

// RevocationIndex holds the record of every issued, unrevoked token.
// Delete returns apperr.ErrTokenNotFound when no record exists.
type RevocationIndex interface {
	Save(ctx context.Context, record model.TokenRecord) error
	Exists(ctx context.Context, token string) (bool, error)
	Delete(ctx context.Context, token string) error
}

// MemoryIndex is a process-local RevocationIndex.
type MemoryIndex struct {
	mutex   sync.RWMutex
	records map[string]model.TokenRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]model.TokenRecord)}
}

func (m *MemoryIndex) Save(_ context.Context, record model.TokenRecord) error {
	m.mutex.Lock()
	m.records[record.TokenHash] = record
	m.mutex.Unlock()
	return nil
}

func (m *MemoryIndex) Exists(_ context.Context, token string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.records[model.HashToken(token)]
	return ok, nil
}

func (m *MemoryIndex) Delete(_ context.Context, token string) error {
	hash := model.HashToken(token)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.records[hash]; !ok {
		return apperr.ErrTokenNotFound
	}
	delete(m.records, hash)
	return nil
}

// Sweep drops records of tokens that have expired.
func (m *MemoryIndex) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	removed := 0
	for hash, record := range m.records {
		if !now.Before(record.ExpiresAt) {
			delete(m.records, hash)
			removed++
		}
	}
	return removed, nil
}

// RedisIndex keeps records as Redis keys that expire with their token.
type RedisIndex struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisIndex stores records under prefix. Record TTLs are measured
// against clk, so it should be the clock the token service issues with.
func NewRedisIndex(client redis.UniversalClient, prefix string, clk clock.Clock) *RedisIndex {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "gatekeeper"
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisIndex{client: client, prefix: prefix + ":token", clock: clk}
}

func (r *RedisIndex) key(hash string) string {
	return r.prefix + ":" + hash
}

func (r *RedisIndex) Save(ctx context.Context, record model.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode token record: %w", err)
	}
	ttl := record.ExpiresAt.Sub(r.clock.Now())
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, r.key(record.TokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token record: %w", err)
	}
	return nil
}

func (r *RedisIndex) Exists(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(model.HashToken(token))).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up token record: %w", err)
	}
	return n > 0, nil
}

func (r *RedisIndex) Delete(ctx context.Context, token string) error {
	n, err := r.client.Del(ctx, r.key(model.HashToken(token))).Result()
	if err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	if n == 0 {
		return apperr.ErrTokenNotFound
	}
	return nil
}
