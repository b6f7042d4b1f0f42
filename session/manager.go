package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
)

// Manager loads and appends to chat sessions kept in a Store.
type Manager struct {
	mu     sync.Mutex
	store  Store
	limit  int
	logger *slog.Logger
}

// Option is a function that configures a Manager.
type Option func(*Manager)

// WithLogger overrides the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHistoryLimit caps the number of turns kept per session.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) {
		m.limit = n
	}
}

// NewManager creates a session manager on top of store.
//
// Example:
//
//	mgr := session.NewManager(inmemory.NewStore(), session.WithHistoryLimit(15))
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent("session_manager")
	}
	return m
}

// Get returns the record for id. Missing sessions yield an error wrapping
// errors.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("session id: %w", errorskg.ErrInvalidInput)
	}
	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// History returns the stored turns of id, or nil when the session does not
// exist yet.
func (m *Manager) History(ctx context.Context, id string) (History, error) {
	rec, err := m.store.Load(ctx, id)
	if err != nil {
		if errorskg.Is(err, errorskg.ErrNotFound) {
			return nil, nil
		}
		m.logger.Error("load session failed", "id", id, "error", err)
		return nil, err
	}
	return rec.History, nil
}

// Append records a finished turn, creating the session on first use.
func (m *Manager) Append(ctx context.Context, id, mode string, turn Turn) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("session id: %w", errorskg.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load(ctx, id)
	switch {
	case err == nil:
	case errorskg.Is(err, errorskg.ErrNotFound):
		rec = NewRecord(id, mode)
		m.logger.Info("session created", "id", id, "mode", mode)
	default:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if mode != "" {
		rec.Mode = mode
	}
	rec.Append(turn, m.limit)
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Error("persist session failed", "id", id, "error", err)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	m.logger.Debug("turn appended", "id", id, "turns", len(rec.History))
	return rec.Clone(), nil
}

// SetTitle stores a display title on an existing session.
func (m *Manager) SetTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	rec.Title = title
	return m.store.Save(ctx, rec)
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(ctx, id)
}
