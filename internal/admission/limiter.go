// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package admission

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/observability"
)

// Defaults for Config fields left zero.
const (
	DefaultRequestsPerWindow = 100
	DefaultWindow            = time.Minute
)

// Response headers set on every limited request.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Config configures a Limiter.
type Config struct {
	// RequestsPerWindow is the budget per key. Defaults to DefaultRequestsPerWindow.
	RequestsPerWindow int64

	// Window is the fixed window length. Defaults to DefaultWindow.
	Window time.Duration

	// Strategy maps requests to keys. Defaults to DefaultStrategy.
	Strategy KeyStrategy

	// ExemptPaths are glob patterns ('/'-separated) that bypass the limiter.
	ExemptPaths []string

	// IPKeyedPaths are glob patterns for routes that accept no bearer token.
	// Requests to them are keyed by client IP under every strategy, so an
	// arbitrary Authorization header cannot buy a fresh budget.
	IPKeyedPaths []string
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Duration
}

// RejectFunc writes the response for a rejected request. Rate-limit headers
// are already set when it runs.
type RejectFunc func(w http.ResponseWriter, r *http.Request)

// Option configures a Limiter.
type Option func(*Limiter)

// WithMetrics records rejections and counter failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithLogger overrides slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithRejectHandler replaces the plain-text 429 response.
func WithRejectHandler(fn RejectFunc) Option {
	return func(l *Limiter) {
		l.reject = fn
	}
}

// Limiter enforces a fixed-window budget per key.
type Limiter struct {
	counter  Counter
	limit    int64
	window   time.Duration
	strategy KeyStrategy
	exempt   []glob.Glob
	ipKeyed  []glob.Glob
	metrics  *observability.Metrics
	logger   *slog.Logger
	reject   RejectFunc
}

// NewLimiter validates cfg and builds a Limiter over counter.
func NewLimiter(counter Counter, cfg Config, opts ...Option) (*Limiter, error) {
	if counter == nil {
		return nil, oops.Code("RATELIMIT_CONFIG_INVALID").Errorf("counter is required")
	}

	limit := cfg.RequestsPerWindow
	if limit == 0 {
		limit = DefaultRequestsPerWindow
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}
	if limit < 0 || window < 0 {
		return nil, oops.Code("RATELIMIT_CONFIG_INVALID").
			With("requests_per_window", limit).
			With("window", window.String()).
			Errorf("budget and window must be positive")
	}

	strategy := DefaultStrategy
	if cfg.Strategy != "" {
		parsed, err := ParseKeyStrategy(string(cfg.Strategy))
		if err != nil {
			return nil, err
		}
		strategy = parsed
	}

	exempt, err := CompilePathGlobs(cfg.ExemptPaths)
	if err != nil {
		return nil, err
	}
	ipKeyed, err := CompilePathGlobs(cfg.IPKeyedPaths)
	if err != nil {
		return nil, err
	}

	l := &Limiter{
		counter:  counter,
		limit:    limit,
		window:   window,
		strategy: strategy,
		exempt:   exempt,
		ipKeyed:  ipKeyed,
		logger:   slog.Default(),
		reject:   rejectPlain,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CompilePathGlobs compiles '/'-separated glob patterns.
func CompilePathGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, oops.Code("RATELIMIT_CONFIG_INVALID").
				With("pattern", p).
				Wrap(err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Strategy returns the configured key strategy.
func (l *Limiter) Strategy() KeyStrategy { return l.strategy }

// Allow counts one hit against key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := l.counter.Increment(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}
	if ttl <= 0 || ttl > l.window {
		ttl = l.window
	}
	return Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
		Reset:     ttl,
	}, nil
}

func (l *Limiter) exempted(path string) bool {
	return matchAny(l.exempt, path)
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Key derives the counter key for r under the configured strategy.
func (l *Limiter) Key(r *http.Request) string {
	if matchAny(l.ipKeyed, r.URL.Path) {
		return l.strategy.ipKey(r)
	}
	return l.strategy.Key(r)
}

// Middleware applies the limiter to every non-exempt request. A counter
// failure admits the request.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.exempted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := l.Allow(r.Context(), l.Key(r))
		if err != nil {
			l.metrics.RecordRateLimitError()
			l.logger.WarnContext(r.Context(), "rate limit counter unavailable, admitting request",
				"path", r.URL.Path,
				"error", err)
			next.ServeHTTP(w, r)
			return
		}

		reset := ceilSeconds(decision.Reset)
		h := w.Header()
		h.Set(HeaderLimit, strconv.FormatInt(decision.Limit, 10))
		h.Set(HeaderRemaining, strconv.FormatInt(decision.Remaining, 10))
		h.Set(HeaderReset, strconv.FormatInt(reset, 10))

		if !decision.Allowed {
			h.Set(HeaderRetryAfter, strconv.FormatInt(reset, 10))
			l.metrics.RecordRateLimitRejection(string(l.strategy))
			l.logger.DebugContext(r.Context(), "rate limit exceeded",
				"strategy", string(l.strategy),
				"path", r.URL.Path)
			l.reject(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ceilSeconds rounds up to whole seconds, minimum 1.
func ceilSeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	return max(s, 1)
}

func rejectPlain(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}
