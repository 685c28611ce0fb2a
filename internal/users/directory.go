// Package users defines the user directory collaborator consulted when
// restoring authorship information.
package users

import (
	"context"
	"sync"
)

// Directory resolves a stable external user key (typically an email address)
// to a user reference in the target system.
type Directory interface {
	// Resolve returns the target user reference for key, or found=false when
	// no matching account exists.
	Resolve(ctx context.Context, key string) (ref string, found bool, err error)
}

// StaticDirectory is an in-memory Directory backed by a fixed map.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewStaticDirectory creates a directory from a key -> user reference map.
func NewStaticDirectory(users map[string]string) *StaticDirectory {
	copied := make(map[string]string, len(users))
	for k, v := range users {
		copied[k] = v
	}
	return &StaticDirectory{users: copied}
}

// Resolve looks up the key in the map.
func (d *StaticDirectory) Resolve(ctx context.Context, key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref, ok := d.users[key]
	return ref, ok, nil
}

// Add registers a user in the directory.
func (d *StaticDirectory) Add(key, ref string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[key] = ref
}
