package prefs

import (
	"iter"
	"maps"
	"slices"
	"sync"
)

// Memory is an in-memory Store. Nothing survives Close.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) All() iter.Seq2[string, string] {
	m.mu.RLock()
	snapshot := maps.Clone(m.data)
	m.mu.RUnlock()

	return func(yield func(string, string) bool) {
		for _, k := range slices.Sorted(maps.Keys(snapshot)) {
			if !yield(k, snapshot[k]) {
				return
			}
		}
	}
}

func (m *Memory) Close() error {
	return nil
}
