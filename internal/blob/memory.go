package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and single-process setups.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put buffers the content of r under key.
func (ms *MemoryStore) Put(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %w", key, err)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.objects[key] = data
	return nil
}

// Get returns a reader over a copy of the stored bytes.
func (ms *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	data, ok := ms.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Delete removes the object.
func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	delete(ms.objects, key)
	return nil
}

// List returns the stored keys under the prefix, sorted.
func (ms *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var keys []string
	for k := range ms.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// HealthCheck always succeeds for the in-memory store.
func (ms *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Len returns the number of stored objects.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.objects)
}
