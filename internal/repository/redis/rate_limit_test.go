package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestRateLimitRepository_AllowsUpToLimit(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "ratelimit"})

	ctx := context.Background()
	window := 15 * time.Minute
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		hit, err := repo.Hit(ctx, "login:alice@example.com", 5, window, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Hit %d returned error: %v", i, err)
		}
		if !hit.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		if hit.Count != i+1 {
			t.Fatalf("expected count %d, got %d", i+1, hit.Count)
		}
	}

	hit, err := repo.Hit(ctx, "login:alice@example.com", 5, window, base.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Hit returned error: %v", err)
	}
	if hit.Allowed {
		t.Fatalf("sixth attempt should be throttled")
	}
	if hit.Count != 5 {
		t.Fatalf("rejected attempt must not be recorded, count=%d", hit.Count)
	}
	if !hit.Oldest.Equal(base) {
		t.Fatalf("expected oldest %v, got %v", base, hit.Oldest)
	}

	if !server.Exists("ratelimit:login:alice@example.com") {
		t.Fatalf("expected prefixed key to exist")
	}
	if ttl := server.TTL("ratelimit:login:alice@example.com"); ttl <= 0 || ttl > window {
		t.Fatalf("expected ttl within (0, %v], got %v", window, ttl)
	}
}

func TestRateLimitRepository_WindowSlides(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	ctx := context.Background()
	window := time.Minute
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if _, err := repo.Hit(ctx, "k", 2, window, base); err != nil {
			t.Fatalf("Hit returned error: %v", err)
		}
	}

	hit, err := repo.Hit(ctx, "k", 2, window, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Hit returned error: %v", err)
	}
	if hit.Allowed {
		t.Fatalf("expected throttle inside window")
	}

	hit, err = repo.Hit(ctx, "k", 2, window, base.Add(window))
	if err != nil {
		t.Fatalf("Hit returned error: %v", err)
	}
	if !hit.Allowed || hit.Count != 1 {
		t.Fatalf("expected attempts to age out, got %+v", hit)
	}
}

func TestRateLimitRepository_Reset(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "rl"})

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := repo.Hit(ctx, "login:bob", 1, time.Minute, at); err != nil {
		t.Fatalf("Hit returned error: %v", err)
	}
	if err := repo.Reset(ctx, "login:bob"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if server.Exists("rl:login:bob") {
		t.Fatalf("expected key to be removed")
	}

	hit, err := repo.Hit(ctx, "login:bob", 1, time.Minute, at)
	if err != nil {
		t.Fatalf("Hit returned error: %v", err)
	}
	if !hit.Allowed {
		t.Fatalf("expected attempt to be allowed after reset")
	}
}

func TestRateLimitRepository_ConcurrentHitsNeverExceedLimit(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hit, err := repo.Hit(ctx, "burst", 5, time.Minute, at)
			if err != nil {
				t.Errorf("Hit returned error: %v", err)
				return
			}
			if hit.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Fatalf("expected exactly 5 allowed attempts, got %d", allowed)
	}
}

func TestRateLimitRepository_RejectsInvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	if _, err := repo.Hit(context.Background(), "k", 1, 0, time.Now()); err == nil {
		t.Fatalf("expected error for zero window")
	}
	if _, err := repo.Hit(context.Background(), "k", 0, time.Minute, time.Now()); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
