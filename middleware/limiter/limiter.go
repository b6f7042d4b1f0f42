package limiter

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/middleware"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(*middleware.Context) string

// RateLimiter applies a token bucket per client. Requests over budget fail
// with errors.ErrRateLimited instead of waiting.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	idle    time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithKeyFunc overrides the default per-client key.
func WithKeyFunc(fn KeyFunc) Option {
	return func(m *RateLimiter) {
		if fn != nil {
			m.key = fn
		}
	}
}

// WithIdleTimeout sets how long an unused bucket is kept.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *RateLimiter) { m.idle = d }
}

// NewRateLimiter allows perSecond requests per client with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int, opts ...Option) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	m := &RateLimiter{
		limit:   limit,
		burst:   burst,
		key:     func(ctx *middleware.Context) string { return ctx.Client },
		buckets: make(map[string]*bucket),
		now:     time.Now,
		idle:    10 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute checks rate limit
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	key := m.key(ctx)
	if !m.allow(key) {
		return fmt.Errorf("%w: client %q", errorskg.ErrRateLimited, key)
	}
	return next(ctx)
}

func (m *RateLimiter) allow(key string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		m.evict(now)
		b = &bucket{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// evict drops idle buckets. Callers hold mu.
func (m *RateLimiter) evict(now time.Time) {
	if m.idle <= 0 {
		return
	}
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.idle {
			delete(m.buckets, k)
		}
	}
}

// Clients returns the number of tracked buckets.
func (m *RateLimiter) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Reset forgets every bucket.
func (m *RateLimiter) Reset() {
	m.mu.Lock()
	m.buckets = make(map[string]*bucket)
	m.mu.Unlock()
}
