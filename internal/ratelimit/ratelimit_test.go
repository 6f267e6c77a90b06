package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "ipx/pkg/domain"
	"ipx/pkg/requestcontext"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestInMemoryStoreSlidingWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewInMemoryStore()
	s.now = clock.now
	ctx := context.Background()

	for i := range 3 {
		res, err := s.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		clock.advance(10 * time.Second)
	}

	res, err := s.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, clock.t.Add(-30*time.Second).Add(time.Minute), res.ResetAt)
	assert.Equal(t, 30, res.RetryAfter(clock.t))

	other, err := s.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	clock.advance(31 * time.Second)
	res, err = s.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "the oldest request left the window")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		method, path string
		want         Class
	}{
		{http.MethodGet, "/registrations/x", ClassRead},
		{http.MethodPost, "/registrations/x/verification", ClassVerification},
		{http.MethodPost, "/registrations/x/verification/", ClassVerification},
		{http.MethodPost, "/registrations/x/submit", ClassWrite},
		{http.MethodPatch, "/registrations/x", ClassWrite},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(httptest.NewRequest(tc.method, tc.path, nil)), tc.method+" "+tc.path)
	}
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis down")
}

func serve(h http.Handler, principal string, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	ctx := requestcontext.WithClientMetadata(req.Context(), "203.0.113.9", "", "")
	if principal != "" {
		ctx = requestcontext.WithPrincipal(ctx, id.PrincipalID(principal))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	limits := Limits{
		ClassVerification: {Requests: 1, Window: time.Minute},
		ClassRead:         {Requests: 0},
	}

	t.Run("limits per principal and class", func(t *testing.T) {
		h := New(NewInMemoryStore(), limits, logger).Handler(ok)

		rec := serve(h, "alice", http.MethodPost, "/registrations/r/verification")
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

		rec = serve(h, "alice", http.MethodPost, "/registrations/r/verification")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"error":"rate_limit_exceeded","error_description":"too many requests; try again later"}`, rec.Body.String())

		assert.Equal(t, http.StatusNoContent, serve(h, "bob", http.MethodPost, "/registrations/r/verification").Code)
	})

	t.Run("unlimited classes pass through", func(t *testing.T) {
		h := New(NewInMemoryStore(), limits, logger).Handler(ok)
		for range 5 {
			rec := serve(h, "alice", http.MethodGet, "/registrations/r")
			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
		}
		assert.Equal(t, http.StatusNoContent, serve(h, "alice", http.MethodPatch, "/registrations/r").Code)
	})

	t.Run("anonymous callers are keyed by ip", func(t *testing.T) {
		h := New(NewInMemoryStore(), limits, logger).Handler(ok)
		assert.Equal(t, http.StatusNoContent, serve(h, "", http.MethodPost, "/x/verification").Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(h, "", http.MethodPost, "/x/verification").Code)
	})

	t.Run("store failures fail open", func(t *testing.T) {
		h := New(failingStore{}, limits, logger).Handler(ok)
		assert.Equal(t, http.StatusNoContent, serve(h, "alice", http.MethodPost, "/x/verification").Code)
	})
}
