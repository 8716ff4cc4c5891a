// Package checkpoint persists the last successfully applied position of each
// stream so consumption resumes after restarts.
package checkpoint

import (
	"context"
	"sync"

	"github.com/syntrixbase/propagator/internal/events"
)

// Store maps a stream identifier to its last applied position.
// Both operations are idempotent and safe to retry.
type Store interface {
	// Get returns the stored position, or nil if the stream has none yet.
	Get(ctx context.Context, streamID string) (events.Position, error)

	// Set overwrites the stored position. An error means progress was not
	// persisted and the event must be treated as not yet applied.
	Set(ctx context.Context, streamID string, pos events.Position) error
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]events.Position
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]events.Position)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, streamID string) (events.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[streamID].Clone(), nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, streamID string, pos events.Position) error {
	if pos.IsZero() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[streamID] = pos.Clone()
	return nil
}
