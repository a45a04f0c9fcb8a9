// Package service provides credential business logic
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/miniflow-io/miniflow/internal/credential/domain/model"
	"github.com/miniflow-io/miniflow/internal/credential/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/crypto"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
)

// ErrCredentialExpired is returned when a credential is past its expiration
var ErrCredentialExpired = errors.New("credential has expired")

// CredentialService manages credentials. Payloads are encrypted as a
// whole JSON document at rest and decrypted on demand.
type CredentialService struct {
	repo      repository.CredentialRepository
	encryptor *crypto.Encryptor
	log       logger.Logger
}

// NewCredentialService creates a new credential service
func NewCredentialService(repo repository.CredentialRepository, encryptor *crypto.Encryptor, log logger.Logger) *CredentialService {
	return &CredentialService{
		repo:      repo,
		encryptor: encryptor,
		log:       log,
	}
}

// CreateCredential creates a new credential with an encrypted payload
func (s *CredentialService) CreateCredential(ctx context.Context, workspaceID, name string, credType model.CredentialType, data map[string]interface{}) (*model.Credential, error) {
	cred, err := model.NewCredential(workspaceID, name, credType)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.encryptor.EncryptJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential data: %w", err)
	}

	if err := s.repo.Create(ctx, cred, encrypted); err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	cred.Data = map[string]interface{}{"encrypted": encrypted}
	return cred, nil
}

// GetCredential retrieves a credential by ID; the payload stays encrypted
func (s *CredentialService) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	return s.repo.FindByID(ctx, id)
}

// GetDecrypted retrieves a credential with its payload decrypted
func (s *CredentialService) GetDecrypted(ctx context.Context, id string) (*model.Credential, error) {
	cred, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.decryptInto(cred); err != nil {
		return nil, err
	}

	if err := s.repo.TouchLastUsed(ctx, id); err != nil {
		s.log.Warn("failed to touch credential usage", "credential_id", id, "error", err)
	}

	return cred, nil
}

// GetDecryptedByIDs bulk-loads credentials with payloads decrypted.
// Missing IDs are omitted from the result.
func (s *CredentialService) GetDecryptedByIDs(ctx context.Context, ids []string) ([]*model.Credential, error) {
	credentials, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, cred := range credentials {
		if err := s.decryptInto(cred); err != nil {
			return nil, err
		}
	}

	return credentials, nil
}

// UpdateCredentialData re-encrypts and replaces the payload
func (s *CredentialService) UpdateCredentialData(ctx context.Context, id string, data map[string]interface{}) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}

	encrypted, err := s.encryptor.EncryptJSON(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential data: %w", err)
	}

	return s.repo.UpdateData(ctx, id, encrypted)
}

// ListCredentials lists credentials for a workspace; payloads stay encrypted
func (s *CredentialService) ListCredentials(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Credential, error) {
	return s.repo.ListByWorkspace(ctx, workspaceID, offset, limit)
}

// DeleteCredential soft deletes a credential
func (s *CredentialService) DeleteCredential(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *CredentialService) decryptInto(cred *model.Credential) error {
	if cred.IsExpired() {
		return fmt.Errorf("%w: %s", ErrCredentialExpired, cred.ID)
	}

	encrypted, ok := cred.Data["encrypted"].(string)
	if !ok {
		return fmt.Errorf("credential %s has no encrypted payload", cred.ID)
	}

	var data map[string]interface{}
	if err := s.encryptor.DecryptJSON(encrypted, &data); err != nil {
		return fmt.Errorf("failed to decrypt credential %s: %w", cred.ID, err)
	}

	cred.Data = data
	return nil
}
