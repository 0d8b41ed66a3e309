package index

import (
	"context"
	"maps"
	"sync"
)

// Storage is the durable snapshot of the index: encoded symbols per URI.
type Storage interface {
	GetAll(ctx context.Context) (map[string][]byte, error)
	Insert(ctx context.Context, entries map[string][]byte) error
	Delete(ctx context.Context, uris []string) error
}

// MemoryStorage is a Storage that keeps everything in memory.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string][]byte)}
}

func (m *MemoryStorage) GetAll(context.Context) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.entries), nil
}

func (m *MemoryStorage) Insert(_ context.Context, entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.entries, entries)
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uri := range uris {
		delete(m.entries, uri)
	}
	return nil
}

// Len returns the number of stored URIs.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
