package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"crm-auth/internal/domain"
	"crm-auth/internal/repository"
)

func seed(t *testing.T, s *Store, id, email, slug string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.Users().Create(context.Background(),
		domain.User{ID: id, Email: email, Status: domain.UserStatusPending, CreatedAt: now},
		domain.Workspace{ID: "w-" + id, Name: slug, Slug: slug, CreatedAt: now},
	)
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestUserRepository_CreateConstraints(t *testing.T) {
	s := New()
	seed(t, s, "u1", "a@example.com", "acme")

	now := time.Now().UTC()
	err := s.Users().Create(context.Background(),
		domain.User{ID: "u2", Email: "a@example.com", CreatedAt: now},
		domain.Workspace{ID: "w2", Slug: "other", CreatedAt: now},
	)
	if !errors.Is(err, repository.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	err = s.Users().Create(context.Background(),
		domain.User{ID: "u3", Email: "c@example.com", CreatedAt: now},
		domain.Workspace{ID: "w3", Slug: "acme", CreatedAt: now},
	)
	if !errors.Is(err, repository.ErrDuplicateSlug) {
		t.Fatalf("expected ErrDuplicateSlug, got %v", err)
	}
	if _, err := s.Users().GetByEmail(context.Background(), "c@example.com"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("failed create must not leave a user behind, got %v", err)
	}
}

func TestSessionRepository_RotateCAS(t *testing.T) {
	s := New()
	seed(t, s, "u1", "a@example.com", "acme")
	ctx := context.Background()
	now := time.Now().UTC()
	sessions := s.Sessions()

	if err := sessions.Create(ctx, domain.Session{ID: "s1", UserID: "u1", RefreshJTI: "j0", CreatedAt: now, LastUsedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := sessions.Rotate(ctx, "s1", "j0", "j1", now, now.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("expected first rotation to win, got %v,%v", ok, err)
	}
	ok, err = sessions.Rotate(ctx, "s1", "j0", "j2", now, now.Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("expected stale jti to lose, got %v,%v", ok, err)
	}

	if ok, _ := sessions.Revoke(ctx, "other-user", "s1", now); ok {
		t.Fatalf("revoke must be scoped to the owner")
	}
	if ok, _ := sessions.Revoke(ctx, "u1", "s1", now); !ok {
		t.Fatalf("expected revoke to succeed")
	}
	if ok, _ := sessions.Rotate(ctx, "s1", "j1", "j3", now, now.Add(time.Hour)); ok {
		t.Fatalf("revoked session must not rotate")
	}
}

func TestTokenRepository_InvalidateAndConsume(t *testing.T) {
	s := New()
	seed(t, s, "u1", "a@example.com", "acme")
	ctx := context.Background()
	now := time.Now().UTC()
	tokens := s.Tokens()

	for _, hash := range []string{"h1", "h2"} {
		if err := tokens.InvalidateUnused(ctx, "u1", domain.TokenTypeEmailVerification, now); err != nil {
			t.Fatalf("invalidate: %v", err)
		}
		if err := tokens.Create(ctx, domain.AuthToken{ID: hash, UserID: "u1", Type: domain.TokenTypeEmailVerification, TokenHash: hash, ExpiresAt: now.Add(time.Hour), CreatedAt: now}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if _, err := tokens.Consume(ctx, "h1", domain.TokenTypeEmailVerification, now); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("superseded token must be rejected, got %v", err)
	}
	if _, err := tokens.Consume(ctx, "h2", domain.TokenTypeEmailVerification, now.Add(2*time.Hour)); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expired token must be rejected, got %v", err)
	}
	if _, err := tokens.Consume(ctx, "h2", domain.TokenTypeEmailVerification, now); err != nil {
		t.Fatalf("consume: %v", err)
	}
}
