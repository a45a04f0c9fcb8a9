package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// NewScriptID creates a new prefixed script ID
func NewScriptID() string {
	return "SCR-" + uuid.New().String()
}

// NewCustomScriptID creates a new prefixed custom script ID
func NewCustomScriptID() string {
	return "CSC-" + uuid.New().String()
}

// Script is an entry in the global script library, shared across
// workspaces. FilePath is relative to the global scripts root.
type Script struct {
	ID           string
	Name         string
	Description  string
	FilePath     string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewScript creates a new global script entry
func NewScript(name, filePath string) (*Script, error) {
	if name == "" {
		return nil, errors.New("script name is required")
	}
	if filePath == "" {
		return nil, errors.New("script file path is required")
	}

	now := time.Now()
	return &Script{
		ID:        NewScriptID(),
		Name:      name,
		FilePath:  filePath,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CustomScript is a workspace-owned script. FilePath is relative to
// the owning workspace's custom scripts root.
type CustomScript struct {
	ID           string
	WorkspaceID  string
	Name         string
	Description  string
	FilePath     string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewCustomScript creates a new workspace-scoped script entry
func NewCustomScript(workspaceID, name, filePath string) (*CustomScript, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace ID is required")
	}
	if name == "" {
		return nil, errors.New("script name is required")
	}
	if filePath == "" {
		return nil, errors.New("script file path is required")
	}

	now := time.Now()
	return &CustomScript{
		ID:          NewCustomScriptID(),
		WorkspaceID: workspaceID,
		Name:        name,
		FilePath:    filePath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
