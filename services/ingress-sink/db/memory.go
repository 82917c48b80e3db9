package db

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent readings in memory, dropping the oldest
// once capacity is reached.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	readings []Reading
}

// NewMemoryStore returns a MemoryStore holding at most capacity readings.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{capacity: capacity}
}

// SaveReadings appends a batch.
func (m *MemoryStore) SaveReadings(_ context.Context, readings []Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readings = append(m.readings, readings...)
	if over := len(m.readings) - m.capacity; over > 0 {
		m.readings = append([]Reading(nil), m.readings[over:]...)
	}
	return nil
}

// LatestReadings returns up to limit readings, newest first.
func (m *MemoryStore) LatestReadings(_ context.Context, limit int) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.readings) {
		limit = len(m.readings)
	}
	out := make([]Reading, 0, limit)
	for i := len(m.readings) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.readings[i])
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() {}
