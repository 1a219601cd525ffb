package backoff

import (
	"context"
	"sync"
	"time"

	"github.com/quemgr/sqsrun/types"
)

type memoryEntry struct {
	retryCount  int
	lastFailure time.Time
	baseDelay   time.Duration
	strategy    types.RetryStrategy
}

// MemoryStore is a process-local BackoffStore backed by a map. State is
// volatile by design: a restart forgets every cool-down.
//
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// CanProcess reports whether id has no entry or its cool-down has
// elapsed.
func (s *MemoryStore) CanProcess(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return true, nil
	}

	next := types.NextRetryAt(e.lastFailure, e.retryCount, e.baseDelay, e.strategy)
	return !s.now().Before(next), nil
}

// RecordFailure creates or bumps the entry for id and returns the
// computed next retry instant.
func (s *MemoryStore) RecordFailure(_ context.Context, id string, baseDelay time.Duration, strategy types.RetryStrategy) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &memoryEntry{}
		s.entries[id] = e
	}

	e.retryCount++
	e.lastFailure = s.now()
	e.baseDelay = baseDelay
	e.strategy = strategy

	return types.NextRetryAt(e.lastFailure, e.retryCount, e.baseDelay, e.strategy), nil
}

// RetryCount returns the recorded failure count for id, 0 if absent.
func (s *MemoryStore) RetryCount(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return 0, nil
	}

	return e.retryCount, nil
}

// Clear removes the entry for id, if any.
func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return nil
}

// Len returns the number of entries currently held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
