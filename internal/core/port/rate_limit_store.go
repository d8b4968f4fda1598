package port

import (
	"context"
	"time"
)

// RateLimitHit is the outcome of a single atomic sliding-window step.
type RateLimitHit struct {
	Allowed bool
	Count   int
	Oldest  time.Time
}

// RateLimitStore keeps sliding-window attempt counters.
// Hit trims the window, counts, and records the attempt when under limit as one atomic step.
type RateLimitStore interface {
	Hit(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (RateLimitHit, error)
	Reset(ctx context.Context, identifier string) error
}
