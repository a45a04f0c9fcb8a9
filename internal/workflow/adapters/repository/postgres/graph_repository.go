package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/model"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

const nodeColumns = "id, workflow_id, name, script_id, custom_script_id, input_params, max_retries, timeout_seconds, priority, created_at, updated_at"

// NodeRepository implements the node repository interface for PostgreSQL
type NodeRepository struct {
	q database.Querier
}

// NewNodeRepository creates a new PostgreSQL node repository
func NewNodeRepository(q database.Querier) *NodeRepository {
	return &NodeRepository{q: q}
}

// Create saves a new node
func (r *NodeRepository) Create(ctx context.Context, node *model.Node) error {
	params, err := json.Marshal(node.InputParams)
	if err != nil {
		return fmt.Errorf("failed to serialize input params: %w", err)
	}

	query := `
		INSERT INTO nodes (` + nodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.q.ExecContext(ctx, query,
		node.ID,
		node.WorkflowID,
		node.Name,
		node.ScriptID,
		node.CustomScriptID,
		params,
		node.MaxRetries,
		node.TimeoutSeconds,
		node.Priority,
		node.CreatedAt,
		node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

// FindByID finds a node by ID
func (r *NodeRepository) FindByID(ctx context.Context, id string) (*model.Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE id = $1
	`

	node, err := scanNode(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find node: %w", err)
	}
	return node, nil
}

// FindByWorkflowID loads every node of a workflow
func (r *NodeRepository) FindByWorkflowID(ctx context.Context, workflowID string) ([]*model.Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE workflow_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*model.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// CountByWorkflowID counts the nodes of a workflow
func (r *NodeRepository) CountByWorkflowID(ctx context.Context, workflowID string) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE workflow_id = $1`, workflowID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// Update updates an existing node
func (r *NodeRepository) Update(ctx context.Context, node *model.Node) error {
	params, err := json.Marshal(node.InputParams)
	if err != nil {
		return fmt.Errorf("failed to serialize input params: %w", err)
	}

	query := `
		UPDATE nodes
		SET name = $2, script_id = $3, custom_script_id = $4, input_params = $5,
		    max_retries = $6, timeout_seconds = $7, priority = $8, updated_at = $9
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		node.ID,
		node.Name,
		node.ScriptID,
		node.CustomScriptID,
		params,
		node.MaxRetries,
		node.TimeoutSeconds,
		node.Priority,
		node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a node
func (r *NodeRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanNode(s interface{ Scan(...interface{}) error }) (*model.Node, error) {
	var (
		node   model.Node
		params []byte
	)
	if err := s.Scan(
		&node.ID,
		&node.WorkflowID,
		&node.Name,
		&node.ScriptID,
		&node.CustomScriptID,
		&params,
		&node.MaxRetries,
		&node.TimeoutSeconds,
		&node.Priority,
		&node.CreatedAt,
		&node.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &node.InputParams); err != nil {
			return nil, fmt.Errorf("failed to parse input params: %w", err)
		}
	}
	if node.InputParams == nil {
		node.InputParams = make(map[string]model.ParamSpec)
	}
	return &node, nil
}

const edgeColumns = "id, workflow_id, from_node_id, to_node_id, created_at"

// EdgeRepository implements the edge repository interface for PostgreSQL
type EdgeRepository struct {
	q database.Querier
}

// NewEdgeRepository creates a new PostgreSQL edge repository
func NewEdgeRepository(q database.Querier) *EdgeRepository {
	return &EdgeRepository{q: q}
}

// Create saves a new edge
func (r *EdgeRepository) Create(ctx context.Context, edge *model.Edge) error {
	query := `
		INSERT INTO edges (` + edgeColumns + `)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q.ExecContext(ctx, query,
		edge.ID,
		edge.WorkflowID,
		edge.FromNodeID,
		edge.ToNodeID,
		edge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// FindByWorkflowID loads every edge of a workflow
func (r *EdgeRepository) FindByWorkflowID(ctx context.Context, workflowID string) ([]*model.Edge, error) {
	query := `
		SELECT ` + edgeColumns + `
		FROM edges
		WHERE workflow_id = $1
	`
	return r.queryEdges(ctx, query, workflowID)
}

// FindByFromNodeID loads the outgoing edges of a node
func (r *EdgeRepository) FindByFromNodeID(ctx context.Context, workflowID, fromNodeID string) ([]*model.Edge, error) {
	query := `
		SELECT ` + edgeColumns + `
		FROM edges
		WHERE workflow_id = $1 AND from_node_id = $2
	`
	return r.queryEdges(ctx, query, workflowID, fromNodeID)
}

// Delete removes an edge
func (r *EdgeRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM edges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *EdgeRepository) queryEdges(ctx context.Context, query string, args ...interface{}) ([]*model.Edge, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		var edge model.Edge
		if err := rows.Scan(&edge.ID, &edge.WorkflowID, &edge.FromNodeID, &edge.ToNodeID, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, &edge)
	}
	return edges, rows.Err()
}
