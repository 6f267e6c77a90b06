// Package ratelimit enforces per-principal sliding-window request limits on
// the registration API.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Class groups endpoints that share one limit.
type Class string

const (
	ClassRead         Class = "read"
	ClassWrite        Class = "write"
	ClassVerification Class = "verification"
)

// Limit is the number of requests allowed per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Limits maps each class to its limit. A class with no entry or a
// non-positive Requests value is unlimited.
type Limits map[Class]Limit

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees a slot.
func (r *Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Store records requests for a key and reports whether one more fits.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Classify assigns a request to a class: ownership checks are the expensive
// path, other mutations are writes.
func Classify(r *http.Request) Class {
	switch {
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		return ClassRead
	case r.Method == http.MethodPost && strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/verification"):
		return ClassVerification
	default:
		return ClassWrite
	}
}
