package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/httputil"
	"ipx/pkg/requestcontext"
)

// Middleware limits requests per principal, falling back to the client IP
// for unauthenticated callers. Store failures fail open.
type Middleware struct {
	store    Store
	limits   Limits
	logger   *slog.Logger
	classify func(*http.Request) Class
	now      func() time.Time
}

type Option func(*Middleware)

func WithClassifier(fn func(*http.Request) Class) Option {
	return func(m *Middleware) { m.classify = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Middleware) { m.now = now }
}

func New(store Store, limits Limits, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:    store,
		limits:   limits,
		logger:   logger,
		classify: Classify,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		class := m.classify(r)
		limit, ok := m.limits[class]
		if !ok || limit.Requests <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		subject := "principal:" + requestcontext.Principal(ctx).String()
		if requestcontext.Principal(ctx).IsNil() {
			subject = "ip:" + requestcontext.ClientIP(ctx)
		}

		result, err := m.store.Allow(ctx, string(class)+":"+subject, limit.Requests, limit.Window)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"class", class,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter(m.now())))
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"class", class,
				"subject", subject,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests; try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
