package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter requires a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client), client
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	l, client := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 5 * time.Second}
	id := fmt.Sprintf("user_%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(ctx, rule.Key+id) })

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, id, rule)
		if err != nil || !ok {
			t.Fatalf("request %d: expected allowed, got %v (%v)", i, ok, err)
		}
	}
	ok, _ := l.Allow(ctx, id, rule)
	if ok {
		t.Fatal("expected fourth request to be limited")
	}

	if n, _ := l.Remaining(ctx, id, rule); n != 0 {
		t.Errorf("expected 0 remaining, got %d", n)
	}
	if ra := l.RetryAfter(ctx, id, rule); ra <= 0 || ra > 5 {
		t.Errorf("expected retry-after within the window, got %d", ra)
	}
}

func TestLocalLimiter_TokenBucket(t *testing.T) {
	l := NewLocalLimiter()
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()
	rule := Rule{Key: "rl:append:", Limit: 2, Window: 10 * time.Second}

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "alice", rule); !ok {
			t.Fatalf("request %d: expected allowed", i)
		}
	}
	if ok, _ := l.Allow(ctx, "alice", rule); ok {
		t.Fatal("expected burst to be exhausted")
	}
	if ok, _ := l.Allow(ctx, "bob", rule); !ok {
		t.Error("expected independent bucket per identifier")
	}

	now = now.Add(5 * time.Second)
	if ok, _ := l.Allow(ctx, "alice", rule); !ok {
		t.Error("expected a token to refill after Window/Limit")
	}
}

func TestLocalLimiter_EmptyIdentifierAllowed(t *testing.T) {
	l := NewLocalLimiter()
	rule := Rule{Key: "rl:x:", Limit: 1, Window: time.Minute}
	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(context.Background(), " ", rule); !ok {
			t.Fatal("expected empty identifier to bypass limiting")
		}
	}
}
