// Package postgres implements the execution context repositories for
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/database"
)

const executionColumns = "id, workspace_id, workflow_id, trigger_id, triggered_by, status, trigger_data, results, started_at, ended_at, created_at, updated_at"

// ExecutionRepository implements the execution repository for PostgreSQL
type ExecutionRepository struct {
	q database.Querier
}

// NewExecutionRepository creates a new PostgreSQL execution repository
func NewExecutionRepository(q database.Querier) *ExecutionRepository {
	return &ExecutionRepository{q: q}
}

// Create saves a new execution
func (r *ExecutionRepository) Create(ctx context.Context, execution *model.Execution) error {
	triggerData, results, err := marshalExecutionJSON(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.q.ExecContext(ctx, query,
		execution.ID().String(),
		execution.WorkspaceID(),
		execution.WorkflowID(),
		database.NullString(execution.TriggerID()),
		database.NullString(execution.TriggeredBy()),
		string(execution.Status()),
		triggerData,
		results,
		nullTimePtr(execution.StartedAt()),
		nullTimePtr(execution.EndedAt()),
		execution.CreatedAt(),
		execution.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// Update persists status, results and timestamps of an execution
func (r *ExecutionRepository) Update(ctx context.Context, execution *model.Execution) error {
	_, results, err := marshalExecutionJSON(execution)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions
		SET status = $2, results = $3, started_at = $4, ended_at = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		execution.ID().String(),
		string(execution.Status()),
		results,
		nullTimePtr(execution.StartedAt()),
		nullTimePtr(execution.EndedAt()),
		execution.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FindByID finds an execution by ID
func (r *ExecutionRepository) FindByID(ctx context.Context, id model.ExecutionID) (*model.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE id = $1
	`
	return r.findOne(ctx, query, id.String())
}

// FindByIDForUpdate loads an execution under a row lock. Must run
// inside a transaction; the lock is held until the transaction ends.
func (r *ExecutionRepository) FindByIDForUpdate(ctx context.Context, id model.ExecutionID) (*model.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE id = $1
		FOR UPDATE
	`
	return r.findOne(ctx, query, id.String())
}

// MarkRunning flips PENDING executions to RUNNING
func (r *ExecutionRepository) MarkRunning(ctx context.Context, ids []model.ExecutionID) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	query := `
		UPDATE executions
		SET status = $1, updated_at = $2
		WHERE id = ANY($3) AND status = $4
	`

	_, err := r.q.ExecContext(ctx, query,
		string(model.ExecutionStatusRunning),
		time.Now(),
		pq.Array(raw),
		string(model.ExecutionStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark executions running: %w", err)
	}
	return nil
}

// ListByWorkspace lists executions of a workspace, newest first
func (r *ExecutionRepository) ListByWorkspace(ctx context.Context, workspaceID string, status model.ExecutionStatus, offset, limit int) ([]*model.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE workspace_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC
		OFFSET $3 LIMIT $4
	`
	return r.findMany(ctx, query, workspaceID, string(status), offset, limit)
}

// CountByWorkspace counts what ListByWorkspace would return
func (r *ExecutionRepository) CountByWorkspace(ctx context.Context, workspaceID string, status model.ExecutionStatus) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM executions
		WHERE workspace_id = $1 AND ($2 = '' OR status = $2)
	`

	var count int64
	if err := r.q.QueryRowContext(ctx, query, workspaceID, string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// ListByWorkflow lists executions of a workflow, newest first
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, offset, limit int) ([]*model.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		OFFSET $2 LIMIT $3
	`
	return r.findMany(ctx, query, workflowID, offset, limit)
}

func (r *ExecutionRepository) findOne(ctx context.Context, query string, args ...interface{}) (*model.Execution, error) {
	execution, err := scanExecution(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find execution: %w", err)
	}
	return execution, nil
}

func (r *ExecutionRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*model.Execution, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

func scanExecution(s interface{ Scan(...interface{}) error }) (*model.Execution, error) {
	var (
		id          string
		workspaceID string
		workflowID  string
		triggerID   sql.NullString
		triggeredBy sql.NullString
		status      string
		triggerData []byte
		results     []byte
		startedAt   sql.NullTime
		endedAt     sql.NullTime
		createdAt   time.Time
		updatedAt   time.Time
	)

	if err := s.Scan(
		&id,
		&workspaceID,
		&workflowID,
		&triggerID,
		&triggeredBy,
		&status,
		&triggerData,
		&results,
		&startedAt,
		&endedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var triggerDataMap, resultsMap map[string]interface{}
	if len(triggerData) > 0 {
		if err := json.Unmarshal(triggerData, &triggerDataMap); err != nil {
			return nil, fmt.Errorf("failed to parse trigger data: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &resultsMap); err != nil {
			return nil, fmt.Errorf("failed to parse results: %w", err)
		}
	}

	return model.ReconstructExecution(
		model.ExecutionID(id),
		workspaceID,
		workflowID,
		triggerID.String,
		triggeredBy.String,
		model.ExecutionStatus(status),
		triggerDataMap,
		resultsMap,
		timePtr(startedAt),
		timePtr(endedAt),
		createdAt,
		updatedAt,
	), nil
}

func marshalExecutionJSON(execution *model.Execution) ([]byte, []byte, error) {
	triggerData, err := json.Marshal(execution.TriggerData())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize trigger data: %w", err)
	}
	results, err := json.Marshal(execution.Results())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize results: %w", err)
	}
	return triggerData, results, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
