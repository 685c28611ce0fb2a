package event

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store keeping one global commit-ordered log per
// app. It backs tests and single-process deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]Envelope // appID -> commit-ordered log
	last map[string]int64      // appID+stream -> last event number
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs: make(map[string][]Envelope),
		last: make(map[string]int64),
	}
}

// ReadAllForApp returns an iterator over a snapshot of the app's log.
func (ms *MemoryStore) ReadAllForApp(ctx context.Context, appID string) (Iterator, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	log := ms.logs[appID]
	snapshot := make([]Envelope, len(log))
	copy(snapshot, log)

	return &sliceIterator{events: snapshot, pos: -1}, nil
}

// Append appends an envelope to the app log, enforcing per-stream ordering.
func (ms *MemoryStore) Append(ctx context.Context, stream string, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	env.Stream = stream

	appID := env.Metadata.AppID
	if appID == "" {
		return fmt.Errorf("append to %s: envelope has no app id", stream)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := appID + "|" + stream
	if lastNum, seen := ms.last[key]; seen && env.EventNumber < lastNum {
		return fmt.Errorf("append to %s: event number %d is behind %d", stream, env.EventNumber, lastNum)
	}
	ms.last[key] = env.EventNumber
	ms.logs[appID] = append(ms.logs[appID], env)
	return nil
}

// CountForApp returns the number of events stored for an app.
func (ms *MemoryStore) CountForApp(appID string) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.logs[appID])
}

// EventsForStream returns the envelopes of one stream in commit order.
func (ms *MemoryStore) EventsForStream(appID, stream string) []Envelope {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []Envelope
	for _, env := range ms.logs[appID] {
		if env.Stream == stream {
			out = append(out, env)
		}
	}
	return out
}

// Streams returns the distinct stream ids of an app in first-seen order.
func (ms *MemoryStore) Streams(appID string) []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, env := range ms.logs[appID] {
		if !seen[env.Stream] {
			seen[env.Stream] = true
			out = append(out, env.Stream)
		}
	}
	return out
}

type sliceIterator struct {
	events []Envelope
	pos    int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.events) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Envelope() Envelope {
	return it.events[it.pos]
}

func (it *sliceIterator) Err() error { return nil }

func (it *sliceIterator) Close() error { return nil }
