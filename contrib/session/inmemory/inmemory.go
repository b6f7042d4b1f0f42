package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/session"
)

// Store keeps session records in process memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Record
}

var _ session.Store = (*Store)(nil)

// NewStore creates an empty in-memory session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*session.Record),
	}
}

// Save saves a session to the store
func (s *Store) Save(ctx context.Context, record *session.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("session record cannot be nil: %w", errorskg.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[record.ID] = record.Clone()
	return nil
}

// Load loads a session from the store
func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, errorskg.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Delete removes a session from the store
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, errorskg.ErrNotFound)
	}
	delete(s.sessions, id)
	return nil
}

// List returns all session IDs, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of sessions in the store
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}
