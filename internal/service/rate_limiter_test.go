package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, time.Duration) { return true, 0 }

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	lastCtx    context.Context
	result     []interface{}
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	m.lastCtx = ctx
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestMemoryRateLimiter_Window(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryRateLimiter(time.Minute, 2).(*memoryRateLimiter)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow(ctx, "login:1.2.3.4"); !ok {
		t.Fatalf("expected first attempt allowed")
	}
	now = now.Add(20 * time.Second)
	if ok, _ := l.Allow(ctx, "LOGIN:1.2.3.4 "); !ok {
		t.Fatalf("expected second attempt allowed")
	}
	ok, wait := l.Allow(ctx, "login:1.2.3.4")
	if ok {
		t.Fatalf("expected third attempt denied")
	}
	if wait != 40*time.Second {
		t.Fatalf("expected retry after 40s (oldest hit leaves the window), got %v", wait)
	}
	if ok, _ := l.Allow(ctx, "login:5.6.7.8"); !ok {
		t.Fatalf("expected independent key allowed")
	}

	now = now.Add(41 * time.Second)
	if ok, _ := l.Allow(ctx, "login:1.2.3.4"); !ok {
		t.Fatalf("expected attempt allowed once the oldest hit expired")
	}
}

func TestMemoryRateLimiter_EvictsIdleKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryRateLimiter(time.Minute, 10).(*memoryRateLimiter)
	l.now = func() time.Time { return now }

	for i := 0; i < 10000; i++ {
		l.Allow(ctx, fmt.Sprintf("register:10.0.%d.%d", i/256, i%256))
	}
	if len(l.hits) != 10000 {
		t.Fatalf("expected 10000 live keys inside the window, got %d", len(l.hits))
	}

	now = now.Add(2 * time.Minute)
	l.Allow(ctx, "register:192.168.0.1")
	if len(l.hits) != 1 {
		t.Fatalf("expected idle keys evicted after the window, %d retained", len(l.hits))
	}
}

func TestMemoryRateLimiter_RejectsEmptyKey(t *testing.T) {
	l := NewMemoryRateLimiter(time.Minute, 5)
	if ok, _ := l.Allow(context.Background(), "  "); ok {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestRedisRateLimiterAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("nil receiver fail-open", func(t *testing.T) {
		var l *redisRateLimiter
		if ok, _ := l.Allow(ctx, "login:1.2.3.4"); !ok {
			t.Fatalf("expected fail-open for nil limiter")
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := &redisRateLimiter{
			client: &mockRedisEvaler{result: []interface{}{int64(1), int64(60000)}},
			window: time.Minute,
			max:    3,
			prefix: "auth:rl:",
		}
		if ok, _ := l.Allow(ctx, "   "); ok {
			t.Fatalf("expected empty key to be rejected")
		}
	})

	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockRedisEvaler{result: []interface{}{int64(3), int64(90000)}}
		l := &redisRateLimiter{
			client: mock,
			window: 2 * time.Minute,
			max:    3,
			prefix: "auth:rl:",
		}
		type ctxKey struct{}
		reqCtx := context.WithValue(ctx, ctxKey{}, "req")
		if ok, _ := l.Allow(reqCtx, " Verify:User@Example.com "); !ok {
			t.Fatalf("expected allow when count <= max")
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "auth:rl:verify:user@example.com" {
			t.Fatalf("unexpected key normalization, got %+v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != int64(120000) {
			t.Fatalf("expected window ms=120000, got %+v", mock.lastArgs)
		}
		if mock.lastScript != redisWindowScript {
			t.Fatalf("expected script to match")
		}
		if mock.lastCtx.Value(ctxKey{}) != "req" {
			t.Fatalf("expected the request context to reach redis")
		}
	})

	t.Run("deny returns key ttl", func(t *testing.T) {
		l := &redisRateLimiter{
			client: &mockRedisEvaler{result: []interface{}{int64(4), int64(12500)}},
			window: time.Minute,
			max:    3,
			prefix: "auth:rl:",
		}
		ok, wait := l.Allow(ctx, "login:1.2.3.4")
		if ok {
			t.Fatalf("expected deny when count > max")
		}
		if wait != 12500*time.Millisecond {
			t.Fatalf("expected wait 12.5s, got %v", wait)
		}
	})

	t.Run("deny without ttl falls back to window", func(t *testing.T) {
		l := &redisRateLimiter{
			client: &mockRedisEvaler{result: []interface{}{int64(4), int64(-1)}},
			window: time.Minute,
			max:    3,
			prefix: "auth:rl:",
		}
		if _, wait := l.Allow(ctx, "login:1.2.3.4"); wait != time.Minute {
			t.Fatalf("expected window fallback, got %v", wait)
		}
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := &redisRateLimiter{
			client: &mockRedisEvaler{err: errors.New("connection refused")},
			window: time.Minute,
			max:    1,
			prefix: "auth:rl:",
		}
		if ok, _ := l.Allow(ctx, "login:1.2.3.4"); !ok {
			t.Fatalf("expected fail-open on redis error")
		}
	})
}

func TestRedisRateLimiter_Miniredis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisRateLimiter(client, time.Minute, 2)
	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "register:10.0.0.1"); !ok {
			t.Fatalf("attempt %d: expected allowed", i+1)
		}
	}
	if ttl := mr.TTL("auth:rl:register:10.0.0.1"); ttl != time.Minute {
		t.Fatalf("expected key ttl 1m, got %v", ttl)
	}

	mr.FastForward(45 * time.Second)
	ok, wait := l.Allow(ctx, "register:10.0.0.1")
	if ok {
		t.Fatalf("expected third attempt denied")
	}
	if wait <= 0 || wait > 15*time.Second {
		t.Fatalf("expected remaining ttl of about 15s, got %v", wait)
	}

	mr.FastForward(16 * time.Second)
	if ok, _ := l.Allow(ctx, "register:10.0.0.1"); !ok {
		t.Fatalf("expected attempt allowed after window expiry")
	}
}
