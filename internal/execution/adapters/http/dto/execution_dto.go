// Package dto maps execution API payloads onto application commands.
package dto

import (
	"errors"
	"time"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
)

// StartExecutionRequest starts an execution from a trigger.
type StartExecutionRequest struct {
	TriggerID   string                 `json:"triggerId"`
	InputData   map[string]interface{} `json:"inputData,omitempty"`
	TriggeredBy string                 `json:"triggeredBy,omitempty"`
}

// Validate checks required fields.
func (r *StartExecutionRequest) Validate() error {
	if r.TriggerID == "" {
		return errors.New("triggerId is required")
	}
	if r.TriggeredBy == "" {
		r.TriggeredBy = "api"
	}
	return nil
}

// StartWorkflowExecutionRequest starts an execution directly on a
// workflow. The workflow ID comes from the URL path.
type StartWorkflowExecutionRequest struct {
	WorkspaceID string                 `json:"workspaceId"`
	InputData   map[string]interface{} `json:"inputData,omitempty"`
	TriggeredBy string                 `json:"triggeredBy,omitempty"`
}

// Validate checks required fields.
func (r *StartWorkflowExecutionRequest) Validate() error {
	if r.WorkspaceID == "" {
		return errors.New("workspaceId is required")
	}
	if r.TriggeredBy == "" {
		r.TriggeredBy = "api"
	}
	return nil
}

// CancelExecutionRequest carries the optional cancellation reason.
type CancelExecutionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ExecutionResponse is the API representation of an execution.
type ExecutionResponse struct {
	ID              string                 `json:"id"`
	WorkspaceID     string                 `json:"workspaceId"`
	WorkflowID      string                 `json:"workflowId"`
	TriggerID       string                 `json:"triggerId,omitempty"`
	TriggeredBy     string                 `json:"triggeredBy,omitempty"`
	Status          string                 `json:"status"`
	TriggerData     map[string]interface{} `json:"triggerData,omitempty"`
	Results         map[string]interface{} `json:"results,omitempty"`
	StartedAt       *time.Time             `json:"startedAt,omitempty"`
	EndedAt         *time.Time             `json:"endedAt,omitempty"`
	DurationSeconds float64                `json:"durationSeconds,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// StartExecutionResponse reports a successful launch.
type StartExecutionResponse struct {
	Execution  ExecutionResponse `json:"execution"`
	InputCount int               `json:"inputCount"`
}

// FromExecution renders an execution.
func FromExecution(execution *model.Execution) ExecutionResponse {
	resp := ExecutionResponse{
		ID:          execution.ID().String(),
		WorkspaceID: execution.WorkspaceID(),
		WorkflowID:  execution.WorkflowID(),
		TriggerID:   execution.TriggerID(),
		TriggeredBy: execution.TriggeredBy(),
		Status:      string(execution.Status()),
		TriggerData: execution.TriggerData(),
		Results:     execution.Results(),
		StartedAt:   execution.StartedAt(),
		EndedAt:     execution.EndedAt(),
		CreatedAt:   execution.CreatedAt(),
		UpdatedAt:   execution.UpdatedAt(),
	}
	if execution.Terminal() {
		resp.DurationSeconds = execution.Duration().Seconds()
	}
	return resp
}

// FromExecutions renders a list of executions.
func FromExecutions(executions []*model.Execution) []ExecutionResponse {
	items := make([]ExecutionResponse, len(executions))
	for i, execution := range executions {
		items[i] = FromExecution(execution)
	}
	return items
}
