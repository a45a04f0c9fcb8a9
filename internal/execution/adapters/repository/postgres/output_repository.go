package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/database"
)

const outputColumns = "id, execution_id, node_id, node_name, status, result_data, started_at, ended_at, duration, memory_mb, cpu_percent, error_message, error_details, retry_count, created_at"

// OutputRepository implements the node result log for PostgreSQL
type OutputRepository struct {
	q database.Querier
}

// NewOutputRepository creates a new PostgreSQL execution output repository
func NewOutputRepository(q database.Querier) *OutputRepository {
	return &OutputRepository{q: q}
}

// Create saves a node result
func (r *OutputRepository) Create(ctx context.Context, output *model.ExecutionOutput) error {
	resultData, err := json.Marshal(output.ResultData)
	if err != nil {
		return fmt.Errorf("failed to serialize result data: %w", err)
	}

	var errorDetails []byte
	if len(output.ErrorDetails) > 0 {
		errorDetails, err = json.Marshal(output.ErrorDetails)
		if err != nil {
			return fmt.Errorf("failed to serialize error details: %w", err)
		}
	}

	query := `
		INSERT INTO execution_outputs (` + outputColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.q.ExecContext(ctx, query,
		output.ID,
		output.ExecutionID.String(),
		output.NodeID,
		output.NodeName,
		string(output.Status),
		resultData,
		database.NullTime(output.StartedAt),
		database.NullTime(output.EndedAt),
		output.Duration,
		output.MemoryMB,
		output.CPUPercent,
		database.NullString(output.ErrorMessage),
		errorDetails,
		output.RetryCount,
		output.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution output: %w", err)
	}
	return nil
}

// ListByExecutionID loads every result of an execution
func (r *OutputRepository) ListByExecutionID(ctx context.Context, executionID model.ExecutionID) ([]*model.ExecutionOutput, error) {
	query := `
		SELECT ` + outputColumns + `
		FROM execution_outputs
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.QueryContext(ctx, query, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list execution outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*model.ExecutionOutput
	for rows.Next() {
		output, err := scanOutput(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution output: %w", err)
		}
		outputs = append(outputs, output)
	}
	return outputs, rows.Err()
}

// FindByExecutionAndNode finds the result of one node of an execution
func (r *OutputRepository) FindByExecutionAndNode(ctx context.Context, executionID model.ExecutionID, nodeID string) (*model.ExecutionOutput, error) {
	query := `
		SELECT ` + outputColumns + `
		FROM execution_outputs
		WHERE execution_id = $1 AND node_id = $2
	`

	output, err := scanOutput(r.q.QueryRowContext(ctx, query, executionID.String(), nodeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find execution output: %w", err)
	}
	return output, nil
}

// CountByExecutionID counts the results of an execution
func (r *OutputRepository) CountByExecutionID(ctx context.Context, executionID model.ExecutionID) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_outputs WHERE execution_id = $1`, executionID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution outputs: %w", err)
	}
	return count, nil
}

// DeleteByExecutionID removes every result of an execution
func (r *OutputRepository) DeleteByExecutionID(ctx context.Context, executionID model.ExecutionID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM execution_outputs WHERE execution_id = $1`, executionID.String())
	if err != nil {
		return fmt.Errorf("failed to clear execution outputs: %w", err)
	}
	return nil
}

func scanOutput(s interface{ Scan(...interface{}) error }) (*model.ExecutionOutput, error) {
	var (
		output       model.ExecutionOutput
		executionID  string
		resultData   []byte
		startedAt    sql.NullTime
		endedAt      sql.NullTime
		errorMessage sql.NullString
		errorDetails []byte
		createdAt    time.Time
	)

	if err := s.Scan(
		&output.ID,
		&executionID,
		&output.NodeID,
		&output.NodeName,
		&output.Status,
		&resultData,
		&startedAt,
		&endedAt,
		&output.Duration,
		&output.MemoryMB,
		&output.CPUPercent,
		&errorMessage,
		&errorDetails,
		&output.RetryCount,
		&createdAt,
	); err != nil {
		return nil, err
	}

	output.ExecutionID = model.ExecutionID(executionID)
	output.StartedAt = startedAt.Time
	output.EndedAt = endedAt.Time
	output.ErrorMessage = errorMessage.String
	output.CreatedAt = createdAt

	output.ResultData = make(map[string]interface{})
	if len(resultData) > 0 {
		if err := json.Unmarshal(resultData, &output.ResultData); err != nil {
			return nil, fmt.Errorf("failed to parse result data: %w", err)
		}
	}
	if len(errorDetails) > 0 {
		if err := json.Unmarshal(errorDetails, &output.ErrorDetails); err != nil {
			return nil, fmt.Errorf("failed to parse error details: %w", err)
		}
	}
	return &output, nil
}
