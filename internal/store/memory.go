package store

import (
	"context"
	"maps"
	"strings"
	"sync"

	"wemirror/internal/mirror"
)

// MemoryStore is an in-memory implementation of the mirror.Store interface.
// It keeps all records in a single map keyed by path, making it useful for
// testing and local runs. This implementation is safe for concurrent use.
type MemoryStore struct {
	records map[string]map[string]any
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory mirror store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]any),
	}
}

// Put stores fields at path, replacing any existing record.
// Records are copied on the way in so callers cannot mutate stored state.
func (m *MemoryStore) Put(_ context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[path] = maps.Clone(fields)
	return nil
}

// Delete removes the record at path. Deleting an absent path is a no-op:
// redelivered deletes must converge, not error.
func (m *MemoryStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, path)
	return nil
}

// Get returns the record at path, and whether it exists.
func (m *MemoryStore) Get(_ context.Context, path string) (map[string]any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[path]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(rec), true, nil
}

// List returns all records whose path starts with prefix, keyed by path.
func (m *MemoryStore) List(_ context.Context, prefix string) (map[string]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]any)
	for path, rec := range m.records {
		if strings.HasPrefix(path, prefix) {
			out[path] = maps.Clone(rec)
		}
	}
	return out, nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// Compile-time check that MemoryStore implements the mirror.Store interface
var _ mirror.Store = (*MemoryStore)(nil)
