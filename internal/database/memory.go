package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-memory Database used by tests and local development.
// Documents round-trip through JSON so reads never alias writer memory.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	purged []string

	// FailWrites forces every mutation to fail, for persistence-failure tests.
	FailWrites bool
}

// NewMemory creates an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func memKey(collection, id string) string {
	return collection + "/" + id
}

func (m *Memory) GetDocument(ctx context.Context, collection, id string, dest any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.docs[memKey(collection, id)]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return json.Unmarshal(raw, dest)
}

func (m *Memory) CreateDocument(ctx context.Context, collection, id string, doc any) error {
	return m.put(collection, id, doc)
}

func (m *Memory) UpdateDocument(ctx context.Context, collection, id string, doc any) error {
	return m.put(collection, id, doc)
}

func (m *Memory) put(collection, id string, doc any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrWriteFailed)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%s/%s: %w: %w", collection, id, ErrWriteFailed, err)
	}
	m.docs[memKey(collection, id)] = raw
	return nil
}

func (m *Memory) DeleteDocument(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrWriteFailed)
	}
	key := memKey(collection, id)
	if _, ok := m.docs[key]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(m.docs, key)
	return nil
}

func (m *Memory) PurgeCachedDocument(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, memKey(collection, id))
	return nil
}

// Purged returns the purge calls recorded so far.
func (m *Memory) Purged() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.purged))
	copy(out, m.purged)
	return out
}

// Has reports whether a document exists.
func (m *Memory) Has(collection, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[memKey(collection, id)]
	return ok
}
