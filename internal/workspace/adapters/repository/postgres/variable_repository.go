package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/workspace/domain/model"
	"github.com/miniflow-io/miniflow/internal/workspace/domain/repository"
)

// VariableRepository implements workspace variable persistence
type VariableRepository struct {
	q database.Querier
}

// NewVariableRepository creates a new variable repository
func NewVariableRepository(q database.Querier) *VariableRepository {
	return &VariableRepository{q: q}
}

const variableColumns = `id, workspace_id, key, value, is_encrypted, description, created_at, updated_at`

func scanVariable(s interface{ Scan(...interface{}) error }) (*model.Variable, error) {
	var v model.Variable
	var description sql.NullString

	err := s.Scan(
		&v.ID,
		&v.WorkspaceID,
		&v.Key,
		&v.Value,
		&v.IsEncrypted,
		&description,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Description = description.String
	return &v, nil
}

// Create saves a new variable
func (r *VariableRepository) Create(ctx context.Context, variable *model.Variable) error {
	query := `
		INSERT INTO variables (id, workspace_id, key, value, is_encrypted, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		variable.ID,
		variable.WorkspaceID,
		variable.Key,
		variable.Value,
		variable.IsEncrypted,
		variable.Description,
		variable.CreatedAt,
		variable.UpdatedAt,
	)

	return err
}

// FindByID finds a variable by ID
func (r *VariableRepository) FindByID(ctx context.Context, id string) (*model.Variable, error) {
	query := `SELECT ` + variableColumns + ` FROM variables WHERE id = $1 AND deleted_at IS NULL`

	v, err := scanVariable(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// FindByIDs bulk-loads variables by ID
func (r *VariableRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.Variable, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + variableColumns + ` FROM variables WHERE id = ANY($1) AND deleted_at IS NULL`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variables []*model.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		variables = append(variables, v)
	}

	return variables, rows.Err()
}

// FindByWorkspaceAndKey finds a variable by its workspace and key
func (r *VariableRepository) FindByWorkspaceAndKey(ctx context.Context, workspaceID, key string) (*model.Variable, error) {
	query := `SELECT ` + variableColumns + ` FROM variables WHERE workspace_id = $1 AND key = $2 AND deleted_at IS NULL`

	v, err := scanVariable(r.q.QueryRowContext(ctx, query, workspaceID, key))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListByWorkspace lists variables for a workspace
func (r *VariableRepository) ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Variable, error) {
	query := `
		SELECT ` + variableColumns + `
		FROM variables
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY key
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.QueryContext(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variables []*model.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		variables = append(variables, v)
	}

	return variables, rows.Err()
}

// Update updates a variable
func (r *VariableRepository) Update(ctx context.Context, variable *model.Variable) error {
	query := `
		UPDATE variables
		SET value = $1, is_encrypted = $2, description = $3, updated_at = $4
		WHERE id = $5 AND deleted_at IS NULL
	`

	_, err := r.q.ExecContext(ctx, query,
		variable.Value,
		variable.IsEncrypted,
		variable.Description,
		time.Now(),
		variable.ID,
	)

	return err
}

// Delete soft deletes a variable
func (r *VariableRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE variables SET deleted_at = $1 WHERE id = $2`
	_, err := r.q.ExecContext(ctx, query, time.Now(), id)
	return err
}
