package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"crm-auth/internal/domain"
)

type WorkspaceRepository interface {
	// ListByUser devuelve los workspaces del usuario, el mas antiguo primero.
	ListByUser(ctx context.Context, userID string) ([]domain.Workspace, error)
}

type PgWorkspaceRepository struct {
	pool *pgxpool.Pool
}

func NewPgWorkspaceRepository(pool *pgxpool.Pool) *PgWorkspaceRepository {
	return &PgWorkspaceRepository{pool: pool}
}

func (r *PgWorkspaceRepository) ListByUser(ctx context.Context, userID string) ([]domain.Workspace, error) {
	const query = `
		SELECT w.id, w.name, w.slug, w.created_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY m.created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []domain.Workspace
	for rows.Next() {
		var w domain.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, w)
	}
	return workspaces, rows.Err()
}
