// Package repository defines the persistence ports of the execution
// context: the execution aggregate, the ready queue of dispatchable
// node work, and the per-node result log.
package repository

import (
	"context"
	"errors"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("execution record not found")

// ExecutionRepository defines the interface for execution persistence
type ExecutionRepository interface {
	// Create saves a new execution
	Create(ctx context.Context, execution *model.Execution) error

	// Update persists status, results and timestamps of an execution
	Update(ctx context.Context, execution *model.Execution) error

	// FindByID finds an execution by ID
	FindByID(ctx context.Context, id model.ExecutionID) (*model.Execution, error)

	// FindByIDForUpdate loads an execution and holds a row lock on it
	// until the enclosing transaction ends. Finalization serializes on
	// this lock so racing results flip an execution terminal once.
	FindByIDForUpdate(ctx context.Context, id model.ExecutionID) (*model.Execution, error)

	// MarkRunning flips PENDING executions to RUNNING after their
	// first dispatch. Executions already past PENDING are untouched.
	MarkRunning(ctx context.Context, ids []model.ExecutionID) error

	// ListByWorkspace lists executions of a workspace ordered by
	// started_at descending. An empty status matches every status.
	ListByWorkspace(ctx context.Context, workspaceID string, status model.ExecutionStatus, offset, limit int) ([]*model.Execution, error)

	// CountByWorkspace counts what ListByWorkspace would return
	CountByWorkspace(ctx context.Context, workspaceID string, status model.ExecutionStatus) (int64, error)

	// ListByWorkflow lists executions of a workflow ordered by
	// started_at descending.
	ListByWorkflow(ctx context.Context, workflowID string, offset, limit int) ([]*model.Execution, error)
}

// ExecutionInputRepository manages the ready queue. Rows exist only
// while a node waits for upstream work; dispatch deletes them.
type ExecutionInputRepository interface {
	// CreateBatch inserts the queue rows of a freshly launched execution
	CreateBatch(ctx context.Context, inputs []*model.ExecutionInput) error

	// SelectReadyForDispatch picks up to limit rows whose dependency
	// count reached zero, ordered by priority, then accumulated wait
	// factor, then age. The rows stay locked until the enclosing
	// transaction ends; rows locked by another scheduler are skipped.
	SelectReadyForDispatch(ctx context.Context, limit int) ([]*model.ExecutionInput, error)

	// IncrementWaitFactorExcept ages every ready row that was not
	// selected in this batch, so starved rows eventually outrank
	// higher-priority newcomers. Returns the number of rows aged.
	IncrementWaitFactorExcept(ctx context.Context, selectedIDs []string) (int64, error)

	// DecrementDependencies decrements the dependency count of the
	// given nodes of one execution, clamping at zero. Returns the
	// number of rows touched.
	DecrementDependencies(ctx context.Context, executionID model.ExecutionID, nodeIDs []string) (int64, error)

	// ListByExecutionID loads the remaining queue rows of an execution
	ListByExecutionID(ctx context.Context, executionID model.ExecutionID) ([]*model.ExecutionInput, error)

	// CountByExecutionID counts the remaining queue rows of an execution
	CountByExecutionID(ctx context.Context, executionID model.ExecutionID) (int64, error)

	// DeleteByIDs removes dispatched rows from the queue
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteByExecutionID removes every remaining row of an execution
	DeleteByExecutionID(ctx context.Context, executionID model.ExecutionID) error
}

// ExecutionOutputRepository manages the per-node result log. Rows
// accumulate while an execution runs and are consumed into
// Execution.results at finalization.
type ExecutionOutputRepository interface {
	// Create saves a node result
	Create(ctx context.Context, output *model.ExecutionOutput) error

	// ListByExecutionID loads every result of an execution
	ListByExecutionID(ctx context.Context, executionID model.ExecutionID) ([]*model.ExecutionOutput, error)

	// FindByExecutionAndNode finds the result of one node of an execution
	FindByExecutionAndNode(ctx context.Context, executionID model.ExecutionID, nodeID string) (*model.ExecutionOutput, error)

	// CountByExecutionID counts the results of an execution
	CountByExecutionID(ctx context.Context, executionID model.ExecutionID) (int64, error)

	// DeleteByExecutionID removes every result of an execution
	DeleteByExecutionID(ctx context.Context, executionID model.ExecutionID) error
}

// Stores bundles the execution repositories over one database handle,
// either the shared pool or a single open transaction.
type Stores interface {
	Executions() ExecutionRepository
	Inputs() ExecutionInputRepository
	Outputs() ExecutionOutputRepository
}

// UnitOfWork runs fn against transaction-scoped stores, committing
// when fn returns nil and rolling back otherwise. The dispatch and
// finalization paths hold their row locks through fn.
type UnitOfWork interface {
	InTransaction(ctx context.Context, fn func(stores Stores) error) error
}
