package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/model"
)

// GraphStore persists workflows with their graphs atomically. It owns
// the transaction and reuses the single-entity repositories bound to it.
type GraphStore struct {
	db *database.DB
}

// NewGraphStore creates a new PostgreSQL graph store
func NewGraphStore(db *database.DB) *GraphStore {
	return &GraphStore{db: db}
}

// CreateGraph saves a workflow and its full graph
func (s *GraphStore) CreateGraph(ctx context.Context, workflow *model.Workflow, nodes []*model.Node, edges []*model.Edge) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := NewWorkflowRepository(tx).Create(ctx, workflow); err != nil {
			return err
		}
		return insertGraph(ctx, tx, nodes, edges)
	})
}

// ReplaceGraph swaps the nodes and edges of an existing workflow
func (s *GraphStore) ReplaceGraph(ctx context.Context, workflowID string, nodes []*model.Node, edges []*model.Edge) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE workflow_id = $1`, workflowID); err != nil {
			return fmt.Errorf("failed to clear edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE workflow_id = $1`, workflowID); err != nil {
			return fmt.Errorf("failed to clear nodes: %w", err)
		}
		return insertGraph(ctx, tx, nodes, edges)
	})
}

func insertGraph(ctx context.Context, tx *sql.Tx, nodes []*model.Node, edges []*model.Edge) error {
	nodeRepo := NewNodeRepository(tx)
	for _, node := range nodes {
		if err := nodeRepo.Create(ctx, node); err != nil {
			return err
		}
	}

	edgeRepo := NewEdgeRepository(tx)
	for _, edge := range edges {
		if err := edgeRepo.Create(ctx, edge); err != nil {
			return err
		}
	}
	return nil
}
