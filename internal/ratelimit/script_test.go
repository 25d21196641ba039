package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// These tests run the Lua script for real against an embedded Redis, so the
// bucket arithmetic itself is exercised rather than a canned reply.

func newScriptLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewLimiter(client, time.Second)
	now := time.UnixMilli(1_700_000_000_000)
	limiter.now = func() time.Time { return now }
	return limiter, srv, &now
}

func storedTokens(t *testing.T, srv *miniredis.Miniredis, key string) float64 {
	t.Helper()
	raw := srv.HGet(key, "tokens")
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		t.Fatalf("stored tokens %q: %v", raw, err)
	}
	return tokens
}

func TestScriptBurstExhaustsBucket(t *testing.T) {
	limiter, srv, _ := newScriptLimiter(t)
	rt := limitedRoute(2, 1)
	ctx := context.Background()

	first := limiter.Check(ctx, "10.0.0.1", rt)
	if !first.Allowed || first.Remaining != 1 {
		t.Fatalf("first = %+v, want allowed with 1 remaining", first)
	}
	second := limiter.Check(ctx, "10.0.0.1", rt)
	if !second.Allowed || second.Remaining != 0 {
		t.Fatalf("second = %+v, want allowed with 0 remaining", second)
	}
	third := limiter.Check(ctx, "10.0.0.1", rt)
	if third.Allowed {
		t.Fatalf("third = %+v, want denied", third)
	}

	if tokens := storedTokens(t, srv, Key(rt.Path, "10.0.0.1")); tokens != 0 {
		t.Fatalf("stored tokens = %v, want 0 after burst", tokens)
	}
}

func TestScriptFractionalRefill(t *testing.T) {
	limiter, srv, now := newScriptLimiter(t)
	rt := limitedRoute(2, 1)
	ctx := context.Background()

	limiter.Check(ctx, "10.0.0.1", rt)
	limiter.Check(ctx, "10.0.0.1", rt)
	if denied := limiter.Check(ctx, "10.0.0.1", rt); denied.Allowed {
		t.Fatalf("expected empty bucket to deny")
	}

	// 1.5s later one whole token has accrued; consuming it leaves 0.5.
	*now = now.Add(1500 * time.Millisecond)
	fourth := limiter.Check(ctx, "10.0.0.1", rt)
	if !fourth.Allowed || fourth.Remaining != 0 {
		t.Fatalf("fourth = %+v, want allowed with 0 remaining", fourth)
	}
	if tokens := storedTokens(t, srv, Key(rt.Path, "10.0.0.1")); tokens != 0.5 {
		t.Fatalf("stored tokens = %v, want 0.5", tokens)
	}
}

func TestScriptRefillCapsAtCapacity(t *testing.T) {
	limiter, srv, now := newScriptLimiter(t)
	rt := limitedRoute(2, 1)
	ctx := context.Background()

	limiter.Check(ctx, "10.0.0.1", rt)

	// A long idle period must not accrue past capacity.
	*now = now.Add(time.Hour)
	result := limiter.Check(ctx, "10.0.0.1", rt)
	if !result.Allowed || result.Remaining != 1 {
		t.Fatalf("result = %+v, want allowed with 1 remaining", result)
	}
	if tokens := storedTokens(t, srv, Key(rt.Path, "10.0.0.1")); tokens != 1 {
		t.Fatalf("stored tokens = %v, want 1", tokens)
	}
}

func TestScriptSetsBucketTTL(t *testing.T) {
	limiter, srv, _ := newScriptLimiter(t)
	rt := limitedRoute(2, 1)

	limiter.Check(context.Background(), "10.0.0.1", rt)

	key := Key(rt.Path, "10.0.0.1")
	if ttl := srv.TTL(key); ttl != 4*time.Second {
		t.Fatalf("ttl = %v, want %ds", ttl, BucketTTLSeconds(2, 1))
	}
}

func TestScriptIsolatesClients(t *testing.T) {
	limiter, _, _ := newScriptLimiter(t)
	rt := limitedRoute(1, 1)
	ctx := context.Background()

	if r := limiter.Check(ctx, "10.0.0.1", rt); !r.Allowed {
		t.Fatalf("first client denied: %+v", r)
	}
	if r := limiter.Check(ctx, "10.0.0.1", rt); r.Allowed {
		t.Fatalf("first client's bucket not empty")
	}
	if r := limiter.Check(ctx, "10.0.0.2", rt); !r.Allowed {
		t.Fatalf("second client shares the first client's bucket: %+v", r)
	}
}
