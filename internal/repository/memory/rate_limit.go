package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arklim/community-identity/internal/core/port"
)

// RateLimitRepository is a single-process sliding window store.
type RateLimitRepository struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewRateLimitRepository returns an empty in-memory limiter store.
func NewRateLimitRepository() *RateLimitRepository {
	return &RateLimitRepository{attempts: make(map[string][]time.Time)}
}

// Hit trims, counts and records under one lock.
func (r *RateLimitRepository) Hit(_ context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.RateLimitHit, error) {
	if window <= 0 {
		return port.RateLimitHit{}, errors.New("window must be positive")
	}
	if limit <= 0 {
		return port.RateLimitHit{}, errors.New("limit must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := at.Add(-window)
	kept := r.attempts[identifier][:0]
	for _, ts := range r.attempts[identifier] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	hit := port.RateLimitHit{}
	if len(kept) < limit {
		kept = append(kept, at)
		hit.Allowed = true
	}
	hit.Count = len(kept)
	if len(kept) > 0 {
		hit.Oldest = kept[0]
		for _, ts := range kept[1:] {
			if ts.Before(hit.Oldest) {
				hit.Oldest = ts
			}
		}
	}

	if len(kept) == 0 {
		delete(r.attempts, identifier)
	} else {
		r.attempts[identifier] = kept
	}
	return hit, nil
}

// Reset forgets all attempts for identifier.
func (r *RateLimitRepository) Reset(_ context.Context, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, identifier)
	return nil
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
