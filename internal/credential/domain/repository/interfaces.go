package repository

import (
	"context"
	"errors"

	"github.com/miniflow-io/miniflow/internal/credential/domain/model"
)

// ErrNotFound is returned when a credential is not found
var ErrNotFound = errors.New("credential not found")

// CredentialRepository defines the interface for credential persistence.
// The Data payload crosses this boundary as an opaque encrypted string;
// encryption and decryption belong to the service layer.
type CredentialRepository interface {
	// Create saves a new credential with an encrypted payload
	Create(ctx context.Context, credential *model.Credential, encryptedData string) error

	// FindByID finds a credential by ID; Data carries the encrypted payload
	// under the "encrypted" key
	FindByID(ctx context.Context, id string) (*model.Credential, error)

	// FindByIDs bulk-loads credentials by ID; missing IDs are omitted
	FindByIDs(ctx context.Context, ids []string) ([]*model.Credential, error)

	// ListByWorkspace lists credentials for a workspace
	ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Credential, error)

	// UpdateData replaces the encrypted payload
	UpdateData(ctx context.Context, id, encryptedData string) error

	// TouchLastUsed records resolution-time usage
	TouchLastUsed(ctx context.Context, id string) error

	// Delete soft deletes a credential
	Delete(ctx context.Context, id string) error
}
