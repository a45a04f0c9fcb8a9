package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/model"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

const workflowColumns = "id, workspace_id, name, description, status, created_at, updated_at"

// WorkflowRepository implements the workflow repository interface for PostgreSQL
type WorkflowRepository struct {
	q database.Querier
}

// NewWorkflowRepository creates a new PostgreSQL workflow repository
func NewWorkflowRepository(q database.Querier) *WorkflowRepository {
	return &WorkflowRepository{q: q}
}

// Create saves a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, workflow *model.Workflow) error {
	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.ExecContext(ctx, query,
		workflow.ID,
		workflow.WorkspaceID,
		workflow.Name,
		nullString(workflow.Description),
		string(workflow.Status),
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return repository.ErrDuplicateName
		}
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// FindByID finds a workflow by ID
func (r *WorkflowRepository) FindByID(ctx context.Context, id string) (*model.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	workflow, err := scanWorkflow(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find workflow: %w", err)
	}
	return workflow, nil
}

// ListByWorkspace lists workflows in a workspace with pagination
func (r *WorkflowRepository) ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`

	rows, err := r.q.QueryContext(ctx, query, workspaceID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*model.Workflow
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, workflow)
	}
	return workflows, rows.Err()
}

// Update updates an existing workflow
func (r *WorkflowRepository) Update(ctx context.Context, workflow *model.Workflow) error {
	query := `
		UPDATE workflows
		SET name = $2, description = $3, status = $4, updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.q.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		nullString(workflow.Description),
		string(workflow.Status),
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete soft-deletes a workflow
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE workflows
		SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanWorkflow(s interface{ Scan(...interface{}) error }) (*model.Workflow, error) {
	var (
		workflow    model.Workflow
		description sql.NullString
		status      string
	)
	if err := s.Scan(
		&workflow.ID,
		&workflow.WorkspaceID,
		&workflow.Name,
		&description,
		&status,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	); err != nil {
		return nil, err
	}
	workflow.Description = description.String
	workflow.Status = model.WorkflowStatus(status)
	return &workflow, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
