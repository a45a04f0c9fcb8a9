package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionID represents a unique execution identifier
type ExecutionID string

// NewExecutionID creates a new execution ID
func NewExecutionID() ExecutionID {
	return ExecutionID("EXE-" + uuid.New().String())
}

func (id ExecutionID) String() string {
	return string(id)
}

// ExecutionStatus represents the status of an execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// Terminal reports whether the status is final
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Execution aggregate root. One execution is a single run of a
// workflow; its node-level state lives in the execution_inputs queue
// and the execution_outputs log, not here.
type Execution struct {
	id          ExecutionID
	workspaceID string
	workflowID  string
	triggerID   string
	triggeredBy string
	status      ExecutionStatus
	triggerData map[string]interface{}
	results     map[string]interface{}
	startedAt   *time.Time
	endedAt     *time.Time
	createdAt   time.Time
	updatedAt   time.Time
}

// NewExecution creates a new pending execution
func NewExecution(workspaceID, workflowID, triggerID, triggeredBy string, triggerData map[string]interface{}) (*Execution, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace ID is required")
	}
	if workflowID == "" {
		return nil, errors.New("workflow ID is required")
	}

	if triggerData == nil {
		triggerData = make(map[string]interface{})
	}

	now := time.Now()
	return &Execution{
		id:          NewExecutionID(),
		workspaceID: workspaceID,
		workflowID:  workflowID,
		triggerID:   triggerID,
		triggeredBy: triggeredBy,
		status:      ExecutionStatusPending,
		triggerData: triggerData,
		results:     make(map[string]interface{}),
		startedAt:   &now,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// Getters
func (e *Execution) ID() ExecutionID                     { return e.id }
func (e *Execution) WorkspaceID() string                 { return e.workspaceID }
func (e *Execution) WorkflowID() string                  { return e.workflowID }
func (e *Execution) TriggerID() string                   { return e.triggerID }
func (e *Execution) TriggeredBy() string                 { return e.triggeredBy }
func (e *Execution) Status() ExecutionStatus             { return e.status }
func (e *Execution) TriggerData() map[string]interface{} { return e.triggerData }
func (e *Execution) Results() map[string]interface{}     { return e.results }
func (e *Execution) StartedAt() *time.Time               { return e.startedAt }
func (e *Execution) EndedAt() *time.Time                 { return e.endedAt }
func (e *Execution) CreatedAt() time.Time                { return e.createdAt }
func (e *Execution) UpdatedAt() time.Time                { return e.updatedAt }

// Terminal reports whether the execution reached a final status
func (e *Execution) Terminal() bool {
	return e.status.Terminal()
}

// Start moves the execution to RUNNING. The first dispatch of any of
// its nodes triggers this.
func (e *Execution) Start() error {
	if e.status != ExecutionStatusPending {
		return fmt.Errorf("cannot start execution in status %s", e.status)
	}

	now := time.Now()
	e.status = ExecutionStatusRunning
	if e.startedAt == nil {
		e.startedAt = &now
	}
	e.updatedAt = now
	return nil
}

// Complete marks the execution COMPLETED with consolidated results
// keyed by node ID. Completing straight from PENDING is legal: a
// workflow with no nodes finishes before anything is dispatched.
func (e *Execution) Complete(results map[string]interface{}) error {
	if e.status != ExecutionStatusRunning && e.status != ExecutionStatusPending {
		return fmt.Errorf("cannot complete execution in status %s", e.status)
	}

	now := time.Now()
	e.status = ExecutionStatusCompleted
	e.endedAt = &now
	if results != nil {
		e.results = results
	}
	e.updatedAt = now
	return nil
}

// Fail marks the execution FAILED, keeping whatever results were
// collected before the failure.
func (e *Execution) Fail(results map[string]interface{}) error {
	if e.status != ExecutionStatusRunning && e.status != ExecutionStatusPending {
		return fmt.Errorf("cannot fail execution in status %s", e.status)
	}

	now := time.Now()
	e.status = ExecutionStatusFailed
	e.endedAt = &now
	if results != nil {
		e.results = results
	}
	e.updatedAt = now
	return nil
}

// Cancel marks the execution CANCELLED, consolidating whatever ran
// plus the synthesized entries for nodes that never did.
func (e *Execution) Cancel(results map[string]interface{}) error {
	if e.Terminal() {
		return fmt.Errorf("cannot cancel execution in status %s", e.status)
	}

	now := time.Now()
	e.status = ExecutionStatusCancelled
	e.endedAt = &now
	if results != nil {
		e.results = results
	}
	e.updatedAt = now
	return nil
}

// Duration returns the wall-clock duration of a finished execution
func (e *Execution) Duration() time.Duration {
	if e.startedAt == nil || e.endedAt == nil {
		return 0
	}
	return e.endedAt.Sub(*e.startedAt)
}

// ReconstructExecution rebuilds an execution from persisted state
func ReconstructExecution(
	id ExecutionID,
	workspaceID string,
	workflowID string,
	triggerID string,
	triggeredBy string,
	status ExecutionStatus,
	triggerData map[string]interface{},
	results map[string]interface{},
	startedAt *time.Time,
	endedAt *time.Time,
	createdAt time.Time,
	updatedAt time.Time,
) *Execution {
	if triggerData == nil {
		triggerData = make(map[string]interface{})
	}
	if results == nil {
		results = make(map[string]interface{})
	}
	return &Execution{
		id:          id,
		workspaceID: workspaceID,
		workflowID:  workflowID,
		triggerID:   triggerID,
		triggeredBy: triggeredBy,
		status:      status,
		triggerData: triggerData,
		results:     results,
		startedAt:   startedAt,
		endedAt:     endedAt,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}
