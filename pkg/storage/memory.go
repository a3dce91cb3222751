package storage

import (
	"context"
	"sync"

	"github.com/metrapark/facility-sync/pkg/facility"
)

// Memory is an in-memory Store for tests and local development.
type Memory struct {
	mu      sync.Mutex
	records []facility.Facility
	saves   int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// SaveAll implements Store.
func (m *Memory) SaveAll(ctx context.Context, records []facility.Facility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	m.saves++
	return nil
}

// Count returns the number of stored records.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Saves returns how many SaveAll calls were made.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Records returns a copy of the stored records.
func (m *Memory) Records() []facility.Facility {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]facility.Facility, len(m.records))
	copy(out, m.records)
	return out
}
