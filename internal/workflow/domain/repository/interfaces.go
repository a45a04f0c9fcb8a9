package repository

import (
	"context"

	"github.com/miniflow-io/miniflow/internal/workflow/domain/model"
)

// WorkflowRepository defines the interface for workflow persistence
type WorkflowRepository interface {
	// Create saves a new workflow
	Create(ctx context.Context, workflow *model.Workflow) error

	// FindByID finds a workflow by ID
	FindByID(ctx context.Context, id string) (*model.Workflow, error)

	// ListByWorkspace lists workflows in a workspace with pagination
	ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Workflow, error)

	// Update updates an existing workflow
	Update(ctx context.Context, workflow *model.Workflow) error

	// Delete soft-deletes a workflow
	Delete(ctx context.Context, id string) error
}

// NodeRepository defines the interface for workflow node persistence
type NodeRepository interface {
	// Create saves a new node
	Create(ctx context.Context, node *model.Node) error

	// FindByID finds a node by ID
	FindByID(ctx context.Context, id string) (*model.Node, error)

	// FindByWorkflowID loads every node of a workflow
	FindByWorkflowID(ctx context.Context, workflowID string) ([]*model.Node, error)

	// CountByWorkflowID counts the nodes of a workflow
	CountByWorkflowID(ctx context.Context, workflowID string) (int64, error)

	// Update updates an existing node
	Update(ctx context.Context, node *model.Node) error

	// Delete removes a node
	Delete(ctx context.Context, id string) error
}

// EdgeRepository defines the interface for workflow edge persistence
type EdgeRepository interface {
	// Create saves a new edge
	Create(ctx context.Context, edge *model.Edge) error

	// FindByWorkflowID loads every edge of a workflow
	FindByWorkflowID(ctx context.Context, workflowID string) ([]*model.Edge, error)

	// FindByFromNodeID loads the outgoing edges of a node
	FindByFromNodeID(ctx context.Context, workflowID, fromNodeID string) ([]*model.Edge, error)

	// Delete removes an edge
	Delete(ctx context.Context, id string) error
}

// GraphRepository persists a workflow together with its nodes and
// edges in one atomic operation.
type GraphRepository interface {
	// CreateGraph saves a workflow and its full graph
	CreateGraph(ctx context.Context, workflow *model.Workflow, nodes []*model.Node, edges []*model.Edge) error

	// ReplaceGraph swaps the nodes and edges of an existing workflow
	ReplaceGraph(ctx context.Context, workflowID string, nodes []*model.Node, edges []*model.Edge) error
}

// TriggerRepository defines the interface for trigger persistence
type TriggerRepository interface {
	// Create saves a new trigger
	Create(ctx context.Context, trigger *model.Trigger) error

	// FindByID finds a trigger by ID
	FindByID(ctx context.Context, id string) (*model.Trigger, error)

	// ListByWorkflow lists the triggers of a workflow
	ListByWorkflow(ctx context.Context, workflowID string) ([]*model.Trigger, error)

	// ListEnabledByType lists enabled triggers of one type across workspaces
	ListEnabledByType(ctx context.Context, triggerType model.TriggerType) ([]*model.Trigger, error)

	// Update updates an existing trigger
	Update(ctx context.Context, trigger *model.Trigger) error

	// Delete removes a trigger
	Delete(ctx context.Context, id string) error
}

// ScriptRepository defines the interface for the global script library
type ScriptRepository interface {
	// Create saves a new script entry
	Create(ctx context.Context, script *model.Script) error

	// FindByID finds a script by ID
	FindByID(ctx context.Context, id string) (*model.Script, error)

	// FindByIDs bulk-loads scripts by ID
	FindByIDs(ctx context.Context, ids []string) ([]*model.Script, error)

	// List lists scripts with pagination
	List(ctx context.Context, offset, limit int) ([]*model.Script, error)
}

// CustomScriptRepository defines the interface for workspace scripts
type CustomScriptRepository interface {
	// Create saves a new custom script entry
	Create(ctx context.Context, script *model.CustomScript) error

	// FindByID finds a custom script by ID
	FindByID(ctx context.Context, id string) (*model.CustomScript, error)

	// FindByIDs bulk-loads custom scripts by ID
	FindByIDs(ctx context.Context, ids []string) ([]*model.CustomScript, error)

	// ListByWorkspace lists the custom scripts of a workspace
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.CustomScript, error)
}
