package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tokentracker-hq/relay/pkg/usage"
)

// MemoryStore implements Store with an in-memory slice. It exists for tests
// and carries no durability guarantees.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*usage.Record
	nextID  int64
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Append stores one record.
func (m *MemoryStore) Append(_ context.Context, rec *usage.Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Provider == "" {
		rec.Provider = usage.Provider
	}
	if rec.Model == "" {
		rec.Model = usage.UnknownModel
	}

	rec.ID = m.nextID
	m.nextID++

	// Copy so later caller mutations cannot alter the stored row.
	stored := *rec
	m.records = append(m.records, &stored)

	return nil
}

// Query returns records matching the filter, ordered by insertion.
func (m *MemoryStore) Query(_ context.Context, filter usage.QueryFilter) ([]*usage.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*usage.Record
	for _, rec := range m.records {
		if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !rec.Timestamp.Before(filter.Until) {
			continue
		}
		if filter.Model != "" && rec.Model != filter.Model {
			continue
		}
		if filter.Caller != "" && rec.Caller != filter.Caller {
			continue
		}
		copied := *rec
		out = append(out, &copied)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}

	return out, nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// DeleteOlderThan removes records older than the cutoff.
func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var deleted int64
	for _, rec := range m.records {
		if rec.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept

	return deleted, nil
}

// Close marks the store closed. Subsequent appends fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
