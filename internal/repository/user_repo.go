package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm-auth/internal/domain"
)

// UserRepository define el contrato de persistencia para usuarios.
// Las busquedas sin resultado devuelven pgx.ErrNoRows.
type UserRepository interface {
	// Create inserta el usuario, su workspace y la membresia OWNER en una sola transaccion.
	Create(ctx context.Context, user domain.User, workspace domain.Workspace) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByAuth(ctx context.Context, provider, subject string) (domain.User, error)
	LinkOAuth(ctx context.Context, id, provider, subject string) error
	MarkVerified(ctx context.Context, id string, verifiedAt time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetPendingTwoFactor(ctx context.Context, id, secret string) error
	EnableTwoFactor(ctx context.Context, id string) error
	DisableTwoFactor(ctx context.Context, id string) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `
	id, email, display_name, password_hash, status,
	COALESCE(auth_provider, ''), COALESCE(auth_subject, ''),
	two_factor_enabled, COALESCE(two_factor_secret, ''), COALESCE(two_factor_pending_secret, ''),
	email_verified_at, created_at, updated_at
`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.PasswordHash,
		&u.Status,
		&u.AuthProvider,
		&u.AuthSubject,
		&u.TwoFactorEnabled,
		&u.TwoFactorSecret,
		&u.TwoFactorPendingSecret,
		&u.EmailVerifiedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}
	return u, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User, workspace domain.Workspace) error {
	const insertUser = `
		INSERT INTO users (id, email, display_name, password_hash, status, auth_provider, auth_subject, email_verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	const insertWorkspace = `
		INSERT INTO workspaces (id, name, slug, created_at)
		VALUES ($1, $2, $3, $4)
	`
	const insertMember = `
		INSERT INTO workspace_members (workspace_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertUser,
			user.ID,
			user.Email,
			user.DisplayName,
			user.PasswordHash,
			user.Status,
			nullIfEmpty(user.AuthProvider),
			nullIfEmpty(user.AuthSubject),
			user.EmailVerifiedAt,
			user.CreatedAt,
		); err != nil {
			return mapUniqueViolation(err)
		}
		if _, err := tx.Exec(ctx, insertWorkspace,
			workspace.ID,
			workspace.Name,
			workspace.Slug,
			workspace.CreatedAt,
		); err != nil {
			return mapUniqueViolation(err)
		}
		_, err := tx.Exec(ctx, insertMember, workspace.ID, user.ID, domain.MemberRoleOwner, workspace.CreatedAt)
		return err
	})
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PgUserRepository) GetByAuth(ctx context.Context, provider, subject string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE auth_provider = $1 AND auth_subject = $2`
	return scanUser(r.pool.QueryRow(ctx, query, provider, subject))
}

func (r *PgUserRepository) LinkOAuth(ctx context.Context, id, provider, subject string) error {
	const query = `
		UPDATE users
		SET auth_provider = $2, auth_subject = $3, updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, provider, subject)
}

// MarkVerified activa la cuenta; solo transiciona desde PENDING.
func (r *PgUserRepository) MarkVerified(ctx context.Context, id string, verifiedAt time.Time) error {
	const query = `
		UPDATE users
		SET status = CASE WHEN status = 'PENDING' THEN 'ACTIVE' ELSE status END,
		    email_verified_at = COALESCE(email_verified_at, $2),
		    updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, verifiedAt)
}

func (r *PgUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id, passwordHash)
}

func (r *PgUserRepository) SetPendingTwoFactor(ctx context.Context, id, secret string) error {
	const query = `UPDATE users SET two_factor_pending_secret = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id, secret)
}

// EnableTwoFactor promueve el secreto pendiente; falla con pgx.ErrNoRows si no hay uno.
func (r *PgUserRepository) EnableTwoFactor(ctx context.Context, id string) error {
	const query = `
		UPDATE users
		SET two_factor_secret = two_factor_pending_secret,
		    two_factor_pending_secret = NULL,
		    two_factor_enabled = TRUE,
		    updated_at = now()
		WHERE id = $1 AND two_factor_pending_secret IS NOT NULL
	`
	return r.execOne(ctx, query, id)
}

func (r *PgUserRepository) DisableTwoFactor(ctx context.Context, id string) error {
	const query = `
		UPDATE users
		SET two_factor_enabled = FALSE,
		    two_factor_secret = NULL,
		    two_factor_pending_secret = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id)
}

func (r *PgUserRepository) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
