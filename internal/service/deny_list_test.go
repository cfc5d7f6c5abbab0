package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mockRedisKVClient struct {
	lastSetKey string
	lastSetVal interface{}
	lastSetTTL time.Duration
	lastExists []string
	lastDel    []string

	setErr    error
	existsErr error
	delErr    error
	existsN   int64
	delN      int64
}

func (m *mockRedisKVClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.lastSetKey = key
	m.lastSetVal = value
	m.lastSetTTL = expiration
	cmd := redis.NewStatusCmd(ctx)
	if m.setErr != nil {
		cmd.SetErr(m.setErr)
		return cmd
	}
	cmd.SetVal("OK")
	return cmd
}

func (m *mockRedisKVClient) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	m.lastExists = keys
	cmd := redis.NewIntCmd(ctx)
	if m.existsErr != nil {
		cmd.SetErr(m.existsErr)
		return cmd
	}
	cmd.SetVal(m.existsN)
	return cmd
}

func (m *mockRedisKVClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.lastDel = keys
	cmd := redis.NewIntCmd(ctx)
	if m.delErr != nil {
		cmd.SetErr(m.delErr)
		return cmd
	}
	cmd.SetVal(m.delN)
	return cmd
}

func TestMemoryDenyList_Basics(t *testing.T) {
	ctx := context.Background()
	list := NewMemoryDenyList()

	ok, err := list.IsRevoked(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("expected missing jti false,nil; got %v,%v", ok, err)
	}

	if err := list.Revoke(ctx, "jti-1", 50*time.Millisecond); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	ok, err = list.IsRevoked(ctx, " jti-1 ")
	if err != nil || !ok {
		t.Fatalf("expected jti revoked, got %v,%v", ok, err)
	}

	time.Sleep(70 * time.Millisecond)
	ok, err = list.IsRevoked(ctx, "jti-1")
	if err != nil || ok {
		t.Fatalf("expected entry expired, got %v,%v", ok, err)
	}
}

func TestMemoryDenyList_IgnoresEmptyOrExpired(t *testing.T) {
	ctx := context.Background()
	list := NewMemoryDenyList()

	if err := list.Revoke(ctx, "", time.Minute); err != nil {
		t.Fatalf("expected nil for empty jti, got %v", err)
	}
	if err := list.Revoke(ctx, "jti-2", 0); err != nil {
		t.Fatalf("expected nil for zero ttl, got %v", err)
	}
	if ok, _ := list.IsRevoked(ctx, "jti-2"); ok {
		t.Fatalf("token already expired must not be stored")
	}
}

func TestRedisDenyList_Mock(t *testing.T) {
	ctx := context.Background()

	t.Run("revoke sets prefixed key with ttl", func(t *testing.T) {
		mock := &mockRedisKVClient{}
		list := &redisDenyList{client: mock, prefix: "auth:deny:"}
		if err := list.Revoke(ctx, " jti-1 ", 3*time.Minute); err != nil {
			t.Fatalf("revoke failed: %v", err)
		}
		if mock.lastSetKey != "auth:deny:jti-1" {
			t.Fatalf("unexpected key %q", mock.lastSetKey)
		}
		if mock.lastSetTTL != 3*time.Minute {
			t.Fatalf("unexpected ttl %v", mock.lastSetTTL)
		}
	})

	t.Run("is revoked reads exists", func(t *testing.T) {
		mock := &mockRedisKVClient{existsN: 1}
		list := &redisDenyList{client: mock, prefix: "auth:deny:"}
		ok, err := list.IsRevoked(ctx, "jti-1")
		if err != nil || !ok {
			t.Fatalf("expected revoked, got %v,%v", ok, err)
		}
		if len(mock.lastExists) != 1 || mock.lastExists[0] != "auth:deny:jti-1" {
			t.Fatalf("unexpected exists keys %+v", mock.lastExists)
		}
	})

	t.Run("propagates redis errors", func(t *testing.T) {
		mock := &mockRedisKVClient{setErr: errors.New("down"), existsErr: errors.New("down")}
		list := &redisDenyList{client: mock, prefix: "auth:deny:"}
		if err := list.Revoke(ctx, "jti-1", time.Minute); err == nil {
			t.Fatalf("expected set error")
		}
		if _, err := list.IsRevoked(ctx, "jti-1"); err == nil {
			t.Fatalf("expected exists error")
		}
	})
}

func TestRedisDenyList_Miniredis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	list := NewRedisDenyList(client)
	if err := list.Revoke(ctx, "jti-9", time.Minute); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	ok, err := list.IsRevoked(ctx, "jti-9")
	if err != nil || !ok {
		t.Fatalf("expected revoked, got %v,%v", ok, err)
	}

	mr.FastForward(2 * time.Minute)
	ok, err = list.IsRevoked(ctx, "jti-9")
	if err != nil || ok {
		t.Fatalf("expected entry gone after ttl, got %v,%v", ok, err)
	}
}
