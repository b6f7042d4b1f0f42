package logger

import (
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/sweetpotato0/esg-rag/middleware"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
)

// RequestLogger logs each question and the outcome of the rest of the
// chain.
type RequestLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRequestLogger creates a request logging middleware. A nil logger uses
// the process logger.
func NewRequestLogger(logger *slog.Logger) *RequestLogger {
	if logger == nil {
		logger = logging.WithComponent("request")
	}
	return &RequestLogger{logger: logger, now: time.Now}
}

// Name returns the middleware name
func (m *RequestLogger) Name() string {
	return "RequestLogger"
}

// Execute logs the request before and the response after the chain runs.
func (m *RequestLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	start := m.now()
	m.logger.Info("question received",
		"mode", ctx.Mode,
		"session_id", ctx.SessionID,
		"question_runes", utf8.RuneCountInString(ctx.Question),
		"history_turns", len(ctx.History),
	)

	err := next(ctx)
	elapsed := m.now().Sub(start)

	if err != nil {
		m.logger.Error("question failed", "error", err, "duration", elapsed)
		return err
	}
	attrs := []any{"duration", elapsed}
	if r := ctx.Response; r != nil {
		attrs = append(attrs, "guidance", r.Guidance, "sources", len(r.Sources))
	}
	m.logger.Info("question answered", attrs...)
	return nil
}
