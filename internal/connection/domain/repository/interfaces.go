package repository

import (
	"context"
	"errors"

	"github.com/miniflow-io/miniflow/internal/connection/domain/model"
)

// ErrNotFound is returned when a database connection is not found
var ErrNotFound = errors.New("database connection not found")

// ConnectionRepository defines the interface for connection persistence.
// Passwords cross this boundary encrypted.
type ConnectionRepository interface {
	// Create saves a new connection
	Create(ctx context.Context, conn *model.DatabaseConnection) error

	// FindByID finds a connection by ID
	FindByID(ctx context.Context, id string) (*model.DatabaseConnection, error)

	// FindByIDs bulk-loads connections by ID; missing IDs are omitted
	FindByIDs(ctx context.Context, ids []string) ([]*model.DatabaseConnection, error)

	// ListByWorkspace lists connections for a workspace
	ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.DatabaseConnection, error)

	// Update updates an existing connection
	Update(ctx context.Context, conn *model.DatabaseConnection) error

	// Delete soft deletes a connection
	Delete(ctx context.Context, id string) error
}
