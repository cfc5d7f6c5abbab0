//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"crm-auth/internal/db"
	"crm-auth/internal/domain"
)

// newTestPool levanta Postgres en un contenedor y aplica las migraciones.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("crm_auth"),
		tcpostgres.WithUsername("crm"),
		tcpostgres.WithPassword("crm"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	if err := db.Migrate(ctx, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func seedUser(t *testing.T, users *PgUserRepository, email, slug string) (domain.User, domain.Workspace) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Status:       domain.UserStatusPending,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	workspace := domain.Workspace{ID: uuid.NewString(), Name: slug, Slug: slug, CreatedAt: now}
	if err := users.Create(context.Background(), user, workspace); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user, workspace
}

func TestPgRepositories(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	users := NewPgUserRepository(pool)
	workspaces := NewPgWorkspaceRepository(pool)
	tokens := NewPgTokenRepository(pool)
	sessions := NewPgSessionRepository(pool)
	codes := NewPgBackupCodeRepository(pool)

	user, workspace := seedUser(t, users, "owner@example.com", "acme")

	t.Run("unique constraints map to repository errors", func(t *testing.T) {
		now := time.Now().UTC()
		dup := domain.User{ID: uuid.NewString(), Email: "owner@example.com", Status: domain.UserStatusPending, CreatedAt: now}
		err := users.Create(ctx, dup, domain.Workspace{ID: uuid.NewString(), Name: "x", Slug: "other", CreatedAt: now})
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("expected ErrDuplicateEmail, got %v", err)
		}
		fresh := domain.User{ID: uuid.NewString(), Email: "fresh@example.com", Status: domain.UserStatusPending, CreatedAt: now}
		err = users.Create(ctx, fresh, domain.Workspace{ID: uuid.NewString(), Name: "acme", Slug: "acme", CreatedAt: now})
		if !errors.Is(err, ErrDuplicateSlug) {
			t.Fatalf("expected ErrDuplicateSlug, got %v", err)
		}
		if _, err := users.GetByEmail(ctx, "fresh@example.com"); !errors.Is(err, pgx.ErrNoRows) {
			t.Fatalf("failed create must roll back the user row, got %v", err)
		}
	})

	t.Run("verify and list workspaces", func(t *testing.T) {
		if err := users.MarkVerified(ctx, user.ID, time.Now().UTC()); err != nil {
			t.Fatalf("mark verified: %v", err)
		}
		got, err := users.GetByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("get user: %v", err)
		}
		if got.Status != domain.UserStatusActive || got.EmailVerifiedAt == nil {
			t.Fatalf("expected active verified user, got %+v", got)
		}
		list, err := workspaces.ListByUser(ctx, user.ID)
		if err != nil || len(list) != 1 || list[0].ID != workspace.ID {
			t.Fatalf("unexpected workspaces %+v, err %v", list, err)
		}
	})

	t.Run("token consume is single use", func(t *testing.T) {
		now := time.Now().UTC()
		token := domain.AuthToken{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Type:      domain.TokenTypePasswordReset,
			TokenHash: "reset-hash",
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}
		if err := tokens.Create(ctx, token); err != nil {
			t.Fatalf("create token: %v", err)
		}
		if _, err := tokens.Consume(ctx, "reset-hash", domain.TokenTypeEmailVerification, now); !errors.Is(err, pgx.ErrNoRows) {
			t.Fatalf("token type must match, got %v", err)
		}
		if _, err := tokens.Consume(ctx, "reset-hash", domain.TokenTypePasswordReset, now); err != nil {
			t.Fatalf("consume: %v", err)
		}
		if _, err := tokens.Consume(ctx, "reset-hash", domain.TokenTypePasswordReset, now); !errors.Is(err, pgx.ErrNoRows) {
			t.Fatalf("expected second consume to fail, got %v", err)
		}
	})

	t.Run("session rotate is a single winner CAS", func(t *testing.T) {
		now := time.Now().UTC()
		session := domain.Session{
			ID:          uuid.NewString(),
			UserID:      user.ID,
			WorkspaceID: workspace.ID,
			RefreshJTI:  "jti-0",
			CreatedAt:   now,
			LastUsedAt:  now,
			ExpiresAt:   now.Add(time.Hour),
		}
		if err := sessions.Create(ctx, session); err != nil {
			t.Fatalf("create session: %v", err)
		}

		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := sessions.Rotate(ctx, session.ID, "jti-0", uuid.NewString(), time.Now().UTC(), now.Add(2*time.Hour))
				if err != nil {
					t.Errorf("rotate: %v", err)
					return
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one rotation, got %d", wins)
		}

		revoked, err := sessions.RevokeAll(ctx, user.ID, time.Now().UTC())
		if err != nil || revoked != 1 {
			t.Fatalf("expected one revoked session, got %d, %v", revoked, err)
		}
		active, err := sessions.ListActiveByUser(ctx, user.ID, time.Now().UTC())
		if err != nil || len(active) != 0 {
			t.Fatalf("expected no active sessions, got %d, %v", len(active), err)
		}
	})

	t.Run("backup codes are consumed once", func(t *testing.T) {
		if err := codes.Replace(ctx, user.ID, []string{"h1", "h2"}, time.Now().UTC()); err != nil {
			t.Fatalf("replace: %v", err)
		}
		ok, err := codes.Consume(ctx, user.ID, "h1", time.Now().UTC())
		if err != nil || !ok {
			t.Fatalf("expected consume ok, got %v, %v", ok, err)
		}
		ok, err = codes.Consume(ctx, user.ID, "h1", time.Now().UTC())
		if err != nil || ok {
			t.Fatalf("expected reused code rejected, got %v, %v", ok, err)
		}
		n, err := codes.CountUnused(ctx, user.ID)
		if err != nil || n != 1 {
			t.Fatalf("expected 1 unused code, got %d, %v", n, err)
		}
	})
}
