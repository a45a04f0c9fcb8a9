// Package model defines workspace domain models
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// NewWorkspaceID creates a new prefixed workspace ID
func NewWorkspaceID() string {
	return "WSP-" + uuid.New().String()
}

// NewVariableID creates a new prefixed variable ID
func NewVariableID() string {
	return "ENV-" + uuid.New().String()
}

// Workspace is the tenancy boundary. Every credential, variable,
// database connection, file, and custom script belongs to exactly one.
type Workspace struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewWorkspace creates a new workspace
func NewWorkspace(name string) (*Workspace, error) {
	if name == "" {
		return nil, errors.New("workspace name is required")
	}

	now := time.Now()
	return &Workspace{
		ID:        NewWorkspaceID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Variable is a workspace-scoped key/value pair referenceable from node
// parameters as ${value:<id>}. Encrypted variables hold ciphertext in
// Value and are decrypted only at resolution time.
type Variable struct {
	ID          string
	WorkspaceID string
	Key         string
	Value       string
	IsEncrypted bool
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewVariable creates a new workspace variable
func NewVariable(workspaceID, key, value string, isEncrypted bool) (*Variable, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace ID is required")
	}
	if key == "" {
		return nil, errors.New("variable key is required")
	}

	now := time.Now()
	return &Variable{
		ID:          NewVariableID(),
		WorkspaceID: workspaceID,
		Key:         key,
		Value:       value,
		IsEncrypted: isEncrypted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// UpdateValue replaces the variable value
func (v *Variable) UpdateValue(value string, isEncrypted bool) {
	v.Value = value
	v.IsEncrypted = isEncrypted
	v.UpdatedAt = time.Now()
}
