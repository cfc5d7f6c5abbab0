package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BackupCodeRepository interface {
	// Replace borra los codigos existentes e inserta los nuevos hashes.
	Replace(ctx context.Context, userID string, hashes []string, createdAt time.Time) error
	// Consume marca un codigo como usado; false si no existe o ya fue usado.
	Consume(ctx context.Context, userID, hash string, at time.Time) (bool, error)
	CountUnused(ctx context.Context, userID string) (int, error)
	DeleteAll(ctx context.Context, userID string) error
}

type PgBackupCodeRepository struct {
	pool *pgxpool.Pool
}

func NewPgBackupCodeRepository(pool *pgxpool.Pool) *PgBackupCodeRepository {
	return &PgBackupCodeRepository{pool: pool}
}

func (r *PgBackupCodeRepository) Replace(ctx context.Context, userID string, hashes []string, createdAt time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, hash := range hashes {
			batch.Queue(`
				INSERT INTO backup_codes (id, user_id, code_hash, created_at)
				VALUES ($1, $2, $3, $4)
			`, uuid.NewString(), userID, hash, createdAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *PgBackupCodeRepository) Consume(ctx context.Context, userID, hash string, at time.Time) (bool, error) {
	const query = `
		UPDATE backup_codes SET used_at = $3
		WHERE id = (
			SELECT id FROM backup_codes
			WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
			LIMIT 1
		) AND used_at IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, userID, hash, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgBackupCodeRepository) CountUnused(ctx context.Context, userID string) (int, error) {
	const query = `SELECT count(*) FROM backup_codes WHERE user_id = $1 AND used_at IS NULL`
	var n int
	err := r.pool.QueryRow(ctx, query, userID).Scan(&n)
	return n, err
}

func (r *PgBackupCodeRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID)
	return err
}
