// Package ratelimit throttles anonymous verification lookups per client IP so
// codes cannot be enumerated by brute force.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/platform/httputil"
	"veriledger/pkg/requestcontext"
)

const keyPrefixIP = "ip:"

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the number of whole seconds until the window frees a slot.
func (r *Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// Store counts requests per key inside a window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// SecurityAuditor records throttled clients.
type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// Limiter guards a route group with a per-IP limit.
type Limiter struct {
	store   Store
	limit   int
	window  time.Duration
	auditor SecurityAuditor
	logger  *slog.Logger
}

type Option func(*Limiter)

func WithSecurityAuditor(auditor SecurityAuditor) Option {
	return func(l *Limiter) {
		l.auditor = auditor
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New returns nil when limit is not positive; a nil Limiter lets every
// request through.
func New(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	if store == nil || limit <= 0 || window <= 0 {
		return nil
	}
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Middleware rejects requests over the limit with 429. Store failures are
// logged and the request is let through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)

		result, err := l.store.Allow(ctx, keyPrefixIP+ip, l.limit, l.window)
		if err != nil {
			l.logger.ErrorContext(ctx, "rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			now := requestcontext.Now(ctx)
			l.logger.WarnContext(ctx, "verification lookups throttled",
				"client_ip", ip,
				"request_id", requestcontext.RequestID(ctx),
			)
			if l.auditor != nil {
				l.auditor.Emit(ctx, audit.SecurityEvent{
					Timestamp: now,
					Action:    string(audit.EventRateLimitExceeded),
					Subject:   r.URL.Path,
					IP:        ip,
					RequestID: requestcontext.RequestID(ctx),
					Severity:  audit.SeverityWarning,
				})
			}
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter(now)))
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":             "rate_limit_exceeded",
				"error_description": "too many verification requests, try again later",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
