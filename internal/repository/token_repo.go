package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm-auth/internal/domain"
)

// TokenRepository persiste tokens de verificacion y reseteo de un solo uso.
type TokenRepository interface {
	Create(ctx context.Context, token domain.AuthToken) error
	// InvalidateUnused marca como usados los tokens pendientes del tipo indicado.
	InvalidateUnused(ctx context.Context, userID string, tokenType domain.TokenType, at time.Time) error
	// Consume marca el token como usado si existe, no fue usado y no expiro.
	// En cualquier otro caso devuelve pgx.ErrNoRows.
	Consume(ctx context.Context, tokenHash string, tokenType domain.TokenType, at time.Time) (domain.AuthToken, error)
}

type PgTokenRepository struct {
	pool *pgxpool.Pool
}

func NewPgTokenRepository(pool *pgxpool.Pool) *PgTokenRepository {
	return &PgTokenRepository{pool: pool}
}

func (r *PgTokenRepository) Create(ctx context.Context, token domain.AuthToken) error {
	const query = `
		INSERT INTO auth_tokens (id, user_id, type, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.Type,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	)
	return mapUniqueViolation(err)
}

func (r *PgTokenRepository) InvalidateUnused(ctx context.Context, userID string, tokenType domain.TokenType, at time.Time) error {
	const query = `
		UPDATE auth_tokens
		SET used_at = $3
		WHERE user_id = $1 AND type = $2 AND used_at IS NULL
	`
	_, err := r.pool.Exec(ctx, query, userID, tokenType, at)
	return err
}

func (r *PgTokenRepository) Consume(ctx context.Context, tokenHash string, tokenType domain.TokenType, at time.Time) (domain.AuthToken, error) {
	const query = `
		UPDATE auth_tokens
		SET used_at = $3
		WHERE token_hash = $1 AND type = $2 AND used_at IS NULL AND expires_at > $3
		RETURNING id, user_id, type, token_hash, expires_at, used_at, created_at
	`
	var t domain.AuthToken
	err := r.pool.QueryRow(ctx, query, tokenHash, tokenType, at).Scan(
		&t.ID,
		&t.UserID,
		&t.Type,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.UsedAt,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuthToken{}, err
	}
	return t, err
}
