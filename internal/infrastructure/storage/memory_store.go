package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"AirQualityNews/internal/ports"
)

// MemoryStore is a process-local document store used for development runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

var _ ports.DocumentStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]map[string][]byte{}}
}

// Put stores the JSON form of record under id.
func (m *MemoryStore) Put(_ context.Context, collection, id string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.docs[collection] == nil {
		m.docs[collection] = map[string][]byte{}
	}
	m.docs[collection][id] = raw
	return nil
}

// DeleteWhere removes documents whose field parses to a time strictly before the cutoff.
func (m *MemoryStore) DeleteWhere(_ context.Context, collection string, predicate ports.OlderThan) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, raw := range m.docs[collection] {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return deleted, fmt.Errorf("decode document %s: %w", id, err)
		}

		value, ok := fields[predicate.Field].(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			continue
		}

		if ts.Before(predicate.Before) {
			delete(m.docs[collection], id)
			deleted++
		}
	}

	return deleted, nil
}

// Get decodes the stored document into out.
func (m *MemoryStore) Get(collection, id string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.docs[collection][id]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode document %s: %w", id, err)
	}
	return true, nil
}

// Len returns the number of documents in a collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[collection])
}
