// Package enricher fills in request data before the pipeline runs.
package enricher

import (
	"context"
	"fmt"

	"github.com/sweetpotato0/esg-rag/middleware"
	"github.com/sweetpotato0/esg-rag/session"
)

// EnricherFunc enriches the context
type EnricherFunc func(*middleware.Context) error

// ContextEnricher adds additional data to the middleware context
type ContextEnricher struct {
	enricher EnricherFunc
}

// NewContextEnricher creates a context enriching middleware
func NewContextEnricher(enricher EnricherFunc) *ContextEnricher {
	return &ContextEnricher{enricher: enricher}
}

// Name returns the middleware name
func (m *ContextEnricher) Name() string {
	return "ContextEnricher"
}

// Execute enriches the context
func (m *ContextEnricher) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.enricher != nil {
		if err := m.enricher(ctx); err != nil {
			return err
		}
	}
	return next(ctx)
}

// HistoryLoader loads stored turns for a session.
type HistoryLoader interface {
	History(ctx context.Context, id string) (session.History, error)
}

// SessionHistory fills ctx.History from the session store when the request
// names a session and carries no history of its own.
func SessionHistory(loader HistoryLoader) EnricherFunc {
	return func(ctx *middleware.Context) error {
		if ctx.SessionID == "" || len(ctx.History) > 0 {
			return nil
		}
		h, err := loader.History(ctx.Context(), ctx.SessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", ctx.SessionID, err)
		}
		ctx.History = h
		return nil
	}
}
