package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm-auth/internal/domain"
)

// SessionRepository guarda una fila por dispositivo con el jti del refresh token vigente.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, id string) (domain.Session, error)
	// Rotate reemplaza oldJTI por newJTI solo si la sesion sigue activa y oldJTI es el vigente.
	Rotate(ctx context.Context, id, oldJTI, newJTI string, usedAt, expiresAt time.Time) (bool, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)
	Revoke(ctx context.Context, userID, id string, at time.Time) (bool, error)
	RevokeAll(ctx context.Context, userID string, at time.Time) (int64, error)
	RevokeAllExcept(ctx context.Context, userID, keepID string, at time.Time) (int64, error)
}

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

const sessionColumns = `
	id, user_id, COALESCE(workspace_id::text, ''), refresh_jti, user_agent, device, ip_address,
	created_at, last_used_at, expires_at, revoked_at
`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.WorkspaceID,
		&s.RefreshJTI,
		&s.UserAgent,
		&s.Device,
		&s.IPAddress,
		&s.CreatedAt,
		&s.LastUsedAt,
		&s.ExpiresAt,
		&s.RevokedAt,
	)
	return s, err
}

func (r *PgSessionRepository) Create(ctx context.Context, session domain.Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, workspace_id, refresh_jti, user_agent, device, ip_address, created_at, last_used_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		nullIfEmpty(session.WorkspaceID),
		session.RefreshJTI,
		session.UserAgent,
		session.Device,
		session.IPAddress,
		session.CreatedAt,
		session.LastUsedAt,
		session.ExpiresAt,
	)
	return err
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, err
	}
	return s, err
}

// Rotate es un compare-and-swap de una sola fila: de varias llamadas concurrentes
// con el mismo oldJTI solo una ve RowsAffected == 1.
func (r *PgSessionRepository) Rotate(ctx context.Context, id, oldJTI, newJTI string, usedAt, expiresAt time.Time) (bool, error) {
	const query = `
		UPDATE sessions
		SET refresh_jti = $3, last_used_at = $4, expires_at = $5
		WHERE id = $1 AND refresh_jti = $2 AND revoked_at IS NULL AND expires_at > $4
	`
	tag, err := r.pool.Exec(ctx, query, id, oldJTI, newJTI, usedAt, expiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgSessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_used_at DESC`
	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PgSessionRepository) Revoke(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	const query = `
		UPDATE sessions SET revoked_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, id, userID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeAll es una sola sentencia, por lo que es atomica frente a Rotate.
func (r *PgSessionRepository) RevokeAll(ctx context.Context, userID string, at time.Time) (int64, error) {
	const query = `UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, userID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgSessionRepository) RevokeAllExcept(ctx context.Context, userID, keepID string, at time.Time) (int64, error) {
	const query = `
		UPDATE sessions SET revoked_at = $3
		WHERE user_id = $1 AND id <> $2 AND revoked_at IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, userID, keepID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
