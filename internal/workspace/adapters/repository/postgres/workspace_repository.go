// Package postgres provides PostgreSQL repository implementations for workspace
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/workspace/domain/model"
	"github.com/miniflow-io/miniflow/internal/workspace/domain/repository"
)

// WorkspaceRepository implements workspace persistence
type WorkspaceRepository struct {
	q database.Querier
}

// NewWorkspaceRepository creates a new workspace repository
func NewWorkspaceRepository(q database.Querier) *WorkspaceRepository {
	return &WorkspaceRepository{q: q}
}

// Create saves a new workspace
func (r *WorkspaceRepository) Create(ctx context.Context, workspace *model.Workspace) error {
	query := `
		INSERT INTO workspaces (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q.ExecContext(ctx, query,
		workspace.ID,
		workspace.Name,
		workspace.Description,
		workspace.CreatedAt,
		workspace.UpdatedAt,
	)

	return err
}

// FindByID finds a workspace by ID
func (r *WorkspaceRepository) FindByID(ctx context.Context, id string) (*model.Workspace, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM workspaces
		WHERE id = $1 AND deleted_at IS NULL
	`

	var ws model.Workspace
	var description sql.NullString

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&ws.ID,
		&ws.Name,
		&description,
		&ws.CreatedAt,
		&ws.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ws.Description = description.String
	return &ws, nil
}

// List lists workspaces with pagination
func (r *WorkspaceRepository) List(ctx context.Context, offset, limit int) ([]*model.Workspace, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM workspaces
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.q.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []*model.Workspace
	for rows.Next() {
		var ws model.Workspace
		var description sql.NullString

		if err := rows.Scan(&ws.ID, &ws.Name, &description, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, err
		}

		ws.Description = description.String
		workspaces = append(workspaces, &ws)
	}

	return workspaces, rows.Err()
}

// Update updates a workspace
func (r *WorkspaceRepository) Update(ctx context.Context, workspace *model.Workspace) error {
	query := `
		UPDATE workspaces
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`

	_, err := r.q.ExecContext(ctx, query,
		workspace.Name,
		workspace.Description,
		time.Now(),
		workspace.ID,
	)

	return err
}

// Delete soft deletes a workspace
func (r *WorkspaceRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workspaces SET deleted_at = $1 WHERE id = $2`
	_, err := r.q.ExecContext(ctx, query, time.Now(), id)
	return err
}
