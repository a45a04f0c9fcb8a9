// Package service provides workspace business logic
package service

import (
	"context"
	"fmt"

	"github.com/miniflow-io/miniflow/internal/platform/crypto"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/workspace/domain/model"
	"github.com/miniflow-io/miniflow/internal/workspace/domain/repository"
)

// WorkspaceService handles workspace and variable business logic
type WorkspaceService struct {
	workspaceRepo repository.WorkspaceRepository
	variableRepo  repository.VariableRepository
	encryptor     *crypto.Encryptor
	log           logger.Logger
}

// NewWorkspaceService creates a new workspace service
func NewWorkspaceService(
	workspaceRepo repository.WorkspaceRepository,
	variableRepo repository.VariableRepository,
	encryptor *crypto.Encryptor,
	log logger.Logger,
) *WorkspaceService {
	return &WorkspaceService{
		workspaceRepo: workspaceRepo,
		variableRepo:  variableRepo,
		encryptor:     encryptor,
		log:           log,
	}
}

// CreateWorkspace creates a new workspace
func (s *WorkspaceService) CreateWorkspace(ctx context.Context, name, description string) (*model.Workspace, error) {
	workspace, err := model.NewWorkspace(name)
	if err != nil {
		return nil, err
	}
	workspace.Description = description

	if err := s.workspaceRepo.Create(ctx, workspace); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return workspace, nil
}

// GetWorkspace retrieves a workspace by ID
func (s *WorkspaceService) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	return s.workspaceRepo.FindByID(ctx, id)
}

// ListWorkspaces lists workspaces with pagination
func (s *WorkspaceService) ListWorkspaces(ctx context.Context, offset, limit int) ([]*model.Workspace, error) {
	return s.workspaceRepo.List(ctx, offset, limit)
}

// DeleteWorkspace soft deletes a workspace
func (s *WorkspaceService) DeleteWorkspace(ctx context.Context, id string) error {
	if _, err := s.workspaceRepo.FindByID(ctx, id); err != nil {
		return err
	}
	return s.workspaceRepo.Delete(ctx, id)
}

// SetVariableInput represents variable creation input
type SetVariableInput struct {
	WorkspaceID string
	Key         string
	Value       string
	Encrypt     bool
	Description string
}

// SetVariable creates a variable, or updates the value if the key
// already exists in the workspace. Encrypted variables are stored as
// ciphertext.
func (s *WorkspaceService) SetVariable(ctx context.Context, input SetVariableInput) (*model.Variable, error) {
	value := input.Value
	if input.Encrypt {
		encrypted, err := s.encryptor.EncryptString(input.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt variable: %w", err)
		}
		value = encrypted
	}

	existing, err := s.variableRepo.FindByWorkspaceAndKey(ctx, input.WorkspaceID, input.Key)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}

	if existing != nil {
		existing.UpdateValue(value, input.Encrypt)
		existing.Description = input.Description
		if err := s.variableRepo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update variable: %w", err)
		}
		return existing, nil
	}

	variable, err := model.NewVariable(input.WorkspaceID, input.Key, value, input.Encrypt)
	if err != nil {
		return nil, err
	}
	variable.Description = input.Description

	if err := s.variableRepo.Create(ctx, variable); err != nil {
		return nil, fmt.Errorf("failed to create variable: %w", err)
	}

	return variable, nil
}

// GetVariable retrieves a variable by ID with its value decrypted
func (s *WorkspaceService) GetVariable(ctx context.Context, id string) (*model.Variable, error) {
	variable, err := s.variableRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decryptVariable(variable)
}

// GetVariablesByIDs bulk-loads variables with values decrypted. Missing
// IDs are omitted from the result.
func (s *WorkspaceService) GetVariablesByIDs(ctx context.Context, ids []string) ([]*model.Variable, error) {
	variables, err := s.variableRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i, v := range variables {
		decrypted, err := s.decryptVariable(v)
		if err != nil {
			return nil, err
		}
		variables[i] = decrypted
	}

	return variables, nil
}

// ListVariables lists workspace variables. Encrypted values stay
// ciphertext here; listings never expose secrets.
func (s *WorkspaceService) ListVariables(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Variable, error) {
	return s.variableRepo.ListByWorkspace(ctx, workspaceID, offset, limit)
}

// DeleteVariable soft deletes a variable
func (s *WorkspaceService) DeleteVariable(ctx context.Context, id string) error {
	return s.variableRepo.Delete(ctx, id)
}

func (s *WorkspaceService) decryptVariable(v *model.Variable) (*model.Variable, error) {
	if !v.IsEncrypted {
		return v, nil
	}

	plain, err := s.encryptor.DecryptString(v.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt variable %s: %w", v.ID, err)
	}

	out := *v
	out.Value = plain
	return &out, nil
}
