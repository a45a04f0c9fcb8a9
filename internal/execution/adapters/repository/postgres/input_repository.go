package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/platform/database"
)

const inputColumns = "id, execution_id, workspace_id, workflow_id, node_id, node_name, script_path, params, dependency_count, wait_factor, priority, max_retries, timeout_seconds, created_at"

// InputRepository implements the ready queue for PostgreSQL
type InputRepository struct {
	q database.Querier
}

// NewInputRepository creates a new PostgreSQL execution input repository
func NewInputRepository(q database.Querier) *InputRepository {
	return &InputRepository{q: q}
}

// CreateBatch inserts the queue rows of a freshly launched execution
func (r *InputRepository) CreateBatch(ctx context.Context, inputs []*model.ExecutionInput) error {
	query := `
		INSERT INTO execution_inputs (` + inputColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	for _, input := range inputs {
		params, err := json.Marshal(input.Params)
		if err != nil {
			return fmt.Errorf("failed to serialize input params: %w", err)
		}

		_, err = r.q.ExecContext(ctx, query,
			input.ID,
			input.ExecutionID.String(),
			input.WorkspaceID,
			input.WorkflowID,
			input.NodeID,
			input.NodeName,
			input.ScriptPath,
			params,
			input.DependencyCount,
			input.WaitFactor,
			input.Priority,
			input.MaxRetries,
			input.TimeoutSeconds,
			input.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert execution input: %w", err)
		}
	}
	return nil
}

// SelectReadyForDispatch picks up to limit dispatchable rows. Higher
// priority wins, then rows that waited through more batches, then age.
// Rows locked by a concurrent scheduler are skipped, not waited on.
func (r *InputRepository) SelectReadyForDispatch(ctx context.Context, limit int) ([]*model.ExecutionInput, error) {
	query := `
		SELECT ` + inputColumns + `
		FROM execution_inputs
		WHERE dependency_count = 0
		ORDER BY priority DESC, wait_factor DESC, created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	return r.findMany(ctx, query, limit)
}

// IncrementWaitFactorExcept ages every unlocked ready row that missed
// this batch. The inner SELECT skips rows locked by other schedulers
// so aging never blocks behind a dispatch in progress.
func (r *InputRepository) IncrementWaitFactorExcept(ctx context.Context, selectedIDs []string) (int64, error) {
	if selectedIDs == nil {
		selectedIDs = []string{}
	}

	query := `
		UPDATE execution_inputs
		SET wait_factor = wait_factor + 1
		WHERE id IN (
			SELECT id
			FROM execution_inputs
			WHERE dependency_count = 0 AND NOT (id = ANY($1))
			FOR UPDATE SKIP LOCKED
		)
	`

	result, err := r.q.ExecContext(ctx, query, pq.Array(selectedIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to increment wait factors: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count aged inputs: %w", err)
	}
	return affected, nil
}

// DecrementDependencies decrements the dependency count of the given
// nodes of one execution, clamping at zero.
func (r *InputRepository) DecrementDependencies(ctx context.Context, executionID model.ExecutionID, nodeIDs []string) (int64, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE execution_inputs
		SET dependency_count = GREATEST(dependency_count - 1, 0)
		WHERE execution_id = $1 AND node_id = ANY($2)
	`

	result, err := r.q.ExecContext(ctx, query, executionID.String(), pq.Array(nodeIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to decrement dependencies: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count decremented inputs: %w", err)
	}
	return affected, nil
}

// ListByExecutionID loads the remaining queue rows of an execution
func (r *InputRepository) ListByExecutionID(ctx context.Context, executionID model.ExecutionID) ([]*model.ExecutionInput, error) {
	query := `
		SELECT ` + inputColumns + `
		FROM execution_inputs
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`
	return r.findMany(ctx, query, executionID.String())
}

// CountByExecutionID counts the remaining queue rows of an execution
func (r *InputRepository) CountByExecutionID(ctx context.Context, executionID model.ExecutionID) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_inputs WHERE execution_id = $1`, executionID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution inputs: %w", err)
	}
	return count, nil
}

// DeleteByIDs removes dispatched rows from the queue
func (r *InputRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.q.ExecContext(ctx, `DELETE FROM execution_inputs WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to delete execution inputs: %w", err)
	}
	return nil
}

// DeleteByExecutionID removes every remaining row of an execution
func (r *InputRepository) DeleteByExecutionID(ctx context.Context, executionID model.ExecutionID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM execution_inputs WHERE execution_id = $1`, executionID.String())
	if err != nil {
		return fmt.Errorf("failed to clear execution inputs: %w", err)
	}
	return nil
}

func (r *InputRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*model.ExecutionInput, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution inputs: %w", err)
	}
	defer rows.Close()

	var inputs []*model.ExecutionInput
	for rows.Next() {
		input, err := scanInput(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution input: %w", err)
		}
		inputs = append(inputs, input)
	}
	return inputs, rows.Err()
}

func scanInput(s interface{ Scan(...interface{}) error }) (*model.ExecutionInput, error) {
	var (
		input       model.ExecutionInput
		executionID string
		params      []byte
		createdAt   time.Time
	)

	if err := s.Scan(
		&input.ID,
		&executionID,
		&input.WorkspaceID,
		&input.WorkflowID,
		&input.NodeID,
		&input.NodeName,
		&input.ScriptPath,
		&params,
		&input.DependencyCount,
		&input.WaitFactor,
		&input.Priority,
		&input.MaxRetries,
		&input.TimeoutSeconds,
		&createdAt,
	); err != nil {
		return nil, err
	}

	input.ExecutionID = model.ExecutionID(executionID)
	input.CreatedAt = createdAt
	input.Params = make(map[string]model.InputParam)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input.Params); err != nil {
			return nil, fmt.Errorf("failed to parse input params: %w", err)
		}
	}
	return &input, nil
}
