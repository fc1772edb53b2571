package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(client, 2, 1, time.Minute)

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "producer-a")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be within capacity", i+1)
		}
	}
	allowed, remaining, err := limiter.Allow(ctx, "producer-a")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatalf("request over capacity should be rejected")
	}
	if remaining >= 1 {
		t.Fatalf("remaining = %v, want < 1", remaining)
	}
}

func TestLimiterIsolatesProducers(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(client, 1, 1, time.Minute)

	if allowed, _, _ := limiter.Allow(ctx, "a"); !allowed {
		t.Fatalf("producer a first request should pass")
	}
	if allowed, _, _ := limiter.Allow(ctx, "a"); allowed {
		t.Fatalf("producer a second request should be rejected")
	}
	if allowed, _, _ := limiter.Allow(ctx, "b"); !allowed {
		t.Fatalf("producer b has its own bucket")
	}

	// Refill over elapsed wall time comes from the script arguments, not the
	// miniredis clock, so refill behavior is not asserted here.
}
