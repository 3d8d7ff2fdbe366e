// Package dedup holds the registries that map a content key (a SHA-256 of
// the raw bytes, or a normalised-text signature) to the file id that first
// produced it. The ingest and normalize stages each own one instance.
package dedup

import (
	"context"
	"sync"
)

// Store is a key → first file id registry. Implementations must be safe for
// concurrent use.
type Store interface {
	// Check returns the file id registered for key, if any.
	Check(ctx context.Context, key string) (id string, ok bool, err error)
	// Register records key → id. An existing entry is left untouched.
	Register(ctx context.Context, key, id string) error
	// CheckOrRegister atomically registers key → id unless key is already
	// present, in which case it returns the prior id and dup=true.
	CheckOrRegister(ctx context.Context, key, id string) (prior string, dup bool, err error)
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

func (m *Memory) Check(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.entries[key]
	return id, ok, nil
}

func (m *Memory) Register(_ context.Context, key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		m.entries[key] = id
	}
	return nil
}

func (m *Memory) CheckOrRegister(_ context.Context, key, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.entries[key]; ok {
		return prior, true, nil
	}
	m.entries[key] = id
	return "", false, nil
}

// Len returns the number of registered keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Reset clears the registry.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]string)
}
