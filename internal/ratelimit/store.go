// Package ratelimit implements fixed-window request limiting per caller IP
// and per organization.
//
// A counter lives for one window. The first hit after the window has elapsed
// replaces it with a fresh counter, so a caller can burst up to twice the
// threshold across a window boundary.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/model"
)

// Store keeps the fixed-window counters. Hit must be atomic per key: it
// either resets an expired counter to {now, 1} or increments the live one,
// and returns the counter as it stands after the hit.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (model.RateCounter, error)
}

type memoryEntry struct {
	counter model.RateCounter
	window  time.Duration
}

// MemoryStore is a process-local Store. Counters are not shared between
// instances.
type MemoryStore struct {
	mutex   sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (model.RateCounter, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.counter.Expired(now, window) {
		entry = &memoryEntry{
			counter: model.RateCounter{Key: key, WindowStart: now, Count: 1},
			window:  window,
		}
		s.entries[key] = entry
		return entry.counter, nil
	}

	entry.counter.Count++
	entry.window = window
	return entry.counter, nil
}

// Sweep removes counters whose window has fully elapsed. Expired counters
// behave like absent ones, so this only bounds memory.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.counter.Expired(now, entry.window) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of counters currently held.
func (s *MemoryStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}
