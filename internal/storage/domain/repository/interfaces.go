package repository

import (
	"context"
	"errors"

	"github.com/miniflow-io/miniflow/internal/storage/domain/model"
)

// ErrNotFound is returned when a file record is not found
var ErrNotFound = errors.New("file not found")

// FileRepository defines the interface for file record persistence
type FileRepository interface {
	// Create saves a new file record
	Create(ctx context.Context, file *model.FileRecord) error

	// FindByID finds a file record by ID
	FindByID(ctx context.Context, id string) (*model.FileRecord, error)

	// FindByIDs bulk-loads file records by ID; missing IDs are omitted
	FindByIDs(ctx context.Context, ids []string) ([]*model.FileRecord, error)

	// ListByWorkspace lists file records for a workspace
	ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.FileRecord, error)

	// Delete soft deletes a file record
	Delete(ctx context.Context, id string) error
}
