package store

import (
	"context"
	"fmt"
	"sync"

	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/transcript"
)

// InMemoryStore keeps transcripts in process memory. Useful for tests and
// short-lived tools.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*transcript.Transcript
	ordered []string // ids in insertion order
}

// NewInMemoryStore creates an empty in-memory transcript store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID: make(map[string]*transcript.Transcript),
	}
}

// Save stores a transcript record.
func (s *InMemoryStore) Save(_ context.Context, t *transcript.Transcript) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("transcript must have an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[t.ID]; !exists {
		s.ordered = append(s.ordered, t.ID)
	}
	s.byID[t.ID] = t
	return nil
}

// Get retrieves a transcript by id.
func (s *InMemoryStore) Get(_ context.Context, id string) (*transcript.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("transcript %s: %w", id, bridgeerrors.ErrNotFound)
	}
	return t, nil
}

// List returns the most recent transcripts, newest first.
func (s *InMemoryStore) List(_ context.Context, limit int) ([]*transcript.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.ordered) {
		limit = len(s.ordered)
	}
	out := make([]*transcript.Transcript, 0, limit)
	for i := len(s.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.byID[s.ordered[i]])
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
