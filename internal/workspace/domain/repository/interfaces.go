package repository

import (
	"context"
	"errors"

	"github.com/miniflow-io/miniflow/internal/workspace/domain/model"
)

// ErrNotFound is returned when a workspace or variable is not found
var ErrNotFound = errors.New("workspace record not found")

// WorkspaceRepository defines the interface for workspace persistence
type WorkspaceRepository interface {
	// Create saves a new workspace
	Create(ctx context.Context, workspace *model.Workspace) error

	// FindByID finds a workspace by ID
	FindByID(ctx context.Context, id string) (*model.Workspace, error)

	// List lists workspaces with pagination
	List(ctx context.Context, offset, limit int) ([]*model.Workspace, error)

	// Update updates an existing workspace
	Update(ctx context.Context, workspace *model.Workspace) error

	// Delete soft deletes a workspace
	Delete(ctx context.Context, id string) error
}

// VariableRepository defines the interface for workspace variable persistence
type VariableRepository interface {
	// Create saves a new variable
	Create(ctx context.Context, variable *model.Variable) error

	// FindByID finds a variable by ID
	FindByID(ctx context.Context, id string) (*model.Variable, error)

	// FindByIDs bulk-loads variables by ID; missing IDs are omitted
	FindByIDs(ctx context.Context, ids []string) ([]*model.Variable, error)

	// FindByWorkspaceAndKey finds a variable by its workspace and key
	FindByWorkspaceAndKey(ctx context.Context, workspaceID, key string) (*model.Variable, error)

	// ListByWorkspace lists variables for a workspace
	ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Variable, error)

	// Update updates an existing variable
	Update(ctx context.Context, variable *model.Variable) error

	// Delete soft deletes a variable
	Delete(ctx context.Context, id string) error
}
