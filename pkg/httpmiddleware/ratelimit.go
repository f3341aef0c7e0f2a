package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. Defaults to the
	// client IP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting, e.g. health probes.
	Skip func(*http.Request) bool
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	start time.Time
	prev  float64
	curr  float64
}

// Limiter counts requests per key in two adjacent fixed windows and weighs
// the previous one by its overlap with the sliding window.
type Limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows map[string]*window
}

// NewLimiter creates a Limiter. Stale keys are only evicted while Run is
// active.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &Limiter{cfg: cfg, windows: map[string]*window{}}
}

// Allow records a request for key at now.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{start: now.Truncate(l.cfg.Window)}
		l.windows[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= l.cfg.Window {
		w.prev = w.curr
		if elapsed >= 2*l.cfg.Window {
			w.prev = 0
		}
		w.curr = 0
		w.start = now.Truncate(l.cfg.Window)
	}

	overlap := max(0, 1-now.Sub(w.start).Seconds()/l.cfg.Window.Seconds())
	count := w.prev*overlap + w.curr
	d := Decision{ResetAt: w.start.Add(l.cfg.Window)}
	if count >= float64(l.cfg.Max) {
		return d
	}
	w.curr++
	d.Allowed = true
	d.Remaining = max(0, int(float64(l.cfg.Max)-count-1))
	return d
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

// Run evicts expired keys every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(2 * l.cfg.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			l.evict(now)
		}
	}
}

// Middleware enforces the limit. Every limited response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset; rejected
// ones get 429 with Retry-After.
func (l *Limiter) Middleware() Middleware {
	limit := strconv.Itoa(l.cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.cfg.Skip != nil && l.cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			key := l.cfg.KeyFunc(r)
			d := l.Allow(key, time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			zctx.From(r.Context()).Debug("Rate limited", zap.String("key", key))
			retry := max(0, time.Until(d.ResetAt))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.ObjStart()
			e.FieldStart("code")
			e.Int(http.StatusTooManyRequests)
			e.FieldStart("message")
			e.Str("rate limit exceeded")
			e.ObjEnd()
			_, _ = w.Write(e.Bytes())
		})
	}
}

// RateLimit returns a middleware backed by a Limiter without eviction.
func RateLimit(cfg RateLimitConfig) Middleware {
	return NewLimiter(cfg).Middleware()
}

// ClientIP extracts the client IP from X-Forwarded-For, X-Real-IP or the
// remote address, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
