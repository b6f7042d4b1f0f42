// Package server exposes the answer pipeline and conversation sessions over
// HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/middleware"
	"github.com/sweetpotato0/esg-rag/middleware/enricher"
	"github.com/sweetpotato0/esg-rag/middleware/errorhandler"
	"github.com/sweetpotato0/esg-rag/middleware/limiter"
	"github.com/sweetpotato0/esg-rag/middleware/logger"
	"github.com/sweetpotato0/esg-rag/middleware/validator"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/rag/esg"
	"github.com/sweetpotato0/esg-rag/session"
)

// Pipeline is the question answering backend. *esg.Pipeline implements it.
type Pipeline interface {
	middleware.Answerer
	Title(ctx context.Context, firstUser string) string
	Summarize(ctx context.Context, mode string, convs []esg.Conversation) (string, error)
}

// Server is the HTTP server of the query service.
type Server struct {
	pipeline Pipeline
	sessions *session.Manager
	chain    *middleware.Chain
	config   config.Server
	logger   *slog.Logger
	md       goldmark.Markdown
	newID    func() string
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithChain replaces the default middleware chain around /query.
func WithChain(c *middleware.Chain) Option {
	return func(s *Server) {
		if c != nil {
			s.chain = c
		}
	}
}

// New creates a server. sessions may be nil, in which case requests must
// carry their own history and /sessions is unavailable.
func New(p Pipeline, sessions *session.Manager, cfg config.Server, opts ...Option) *Server {
	s := &Server{
		pipeline: p,
		sessions: sessions,
		config:   cfg,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("server")
	}
	if s.chain == nil {
		s.chain = s.defaultChain()
	}
	return s
}

// defaultChain logs, recovers, limits, validates and finally loads stored
// history, in that order.
func (s *Server) defaultChain() *middleware.Chain {
	chain := middleware.NewChain(
		logger.NewRequestLogger(s.logger),
		errorhandler.NewErrorHandler(func(ctx *middleware.Context, err error) error {
			var pe *errorhandler.PanicError
			if errors.As(err, &pe) {
				s.logger.Error("panic while answering", "panic", pe.Value, "stack", string(pe.Stack))
			}
			return err
		}),
		limiter.NewRateLimiter(s.config.RateLimit, s.config.Burst),
		validator.NewInputValidator(
			validator.ValidText(),
			validator.MaxRunes(s.config.MaxQuestionRunes),
		),
	)
	if s.sessions != nil {
		chain.Add(enricher.NewContextEnricher(enricher.SessionHistory(s.sessions)))
	}
	return chain
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.config.WriteTimeout > 0 {
		r.Use(chimw.Timeout(s.config.WriteTimeout))
	}

	r.Get("/health", s.handleHealth)
	r.Post("/query", s.handleQuery)
	r.Post("/title", s.handleTitle)
	r.Post("/summarize", s.handleSummarize)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
	}
	if s.config.WriteTimeout > 0 {
		// leave room for the response after the handler deadline
		s.server.WriteTimeout = s.config.WriteTimeout + 5*time.Second
	}
	s.logger.Info("starting server", "addr", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
