// Package model defines the workflow graph domain models: workflows,
// nodes, edges, triggers, and the script catalog. The graph is
// read-only during execution; the execution context copies what it
// needs at launch.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// NewWorkflowID creates a new prefixed workflow ID
func NewWorkflowID() string {
	return "WFL-" + uuid.New().String()
}

// WorkflowStatus represents the lifecycle state of a workflow
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Workflow is a named DAG of nodes owned by a workspace
type Workflow struct {
	ID          string
	WorkspaceID string
	Name        string
	Description string
	Status      WorkflowStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewWorkflow creates a new draft workflow
func NewWorkflow(workspaceID, name, description string) (*Workflow, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace ID is required")
	}
	if name == "" {
		return nil, errors.New("workflow name is required")
	}

	now := time.Now()
	return &Workflow{
		ID:          NewWorkflowID(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: description,
		Status:      WorkflowStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Activate marks the workflow runnable
func (w *Workflow) Activate() error {
	if w.Status == WorkflowStatusArchived {
		return errors.New("cannot activate an archived workflow")
	}
	w.Status = WorkflowStatusActive
	w.UpdatedAt = time.Now()
	return nil
}

// Archive retires the workflow; archived workflows cannot be activated
func (w *Workflow) Archive() {
	w.Status = WorkflowStatusArchived
	w.UpdatedAt = time.Now()
}
