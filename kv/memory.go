package kv

import (
	"context"
	"sync"
	"time"

	"github.com/clipdex/clipdex/errors"
)

// Memory is an in-process Store for tests and single-node deployments.
// Expiry is lazy: keys are checked on read and swept opportunistically
// on write.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	timeNow func() time.Time // Injectable for testing
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an in-memory store with an injectable clock (for testing).
func NewMemoryWithClock(timeNow func() time.Time) *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		timeNow: timeNow,
	}
}

// Get returns the value for key, or errors.ErrNotFound if absent or expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || m.expired(entry) {
		return nil, errors.NewNotFound("key not found: %s", key)
	}

	// Copy so callers cannot mutate stored bytes
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set writes value under key, resetting its expiry countdown.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = m.timeNow().Add(ttl)
	}

	m.mu.Lock()
	m.sweepLocked()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes key. Absent keys are ignored.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live (unexpired) keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, entry := range m.entries {
		if !m.expired(entry) {
			n++
		}
	}
	return n
}

func (m *Memory) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !m.timeNow().Before(entry.expiresAt)
}

// sweepLocked drops expired entries. Must be called with the write lock held.
func (m *Memory) sweepLocked() {
	for key, entry := range m.entries {
		if m.expired(entry) {
			delete(m.entries, key)
		}
	}
}
