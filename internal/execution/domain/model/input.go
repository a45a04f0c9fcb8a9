package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// NewInputID creates a new prefixed execution input ID
func NewInputID() string {
	return "EXI-" + uuid.New().String()
}

// InputParam is the launch-time snapshot of one node input
// declaration. Snapshotting keeps in-flight rows valid when the
// workflow definition is edited mid-run.
type InputParam struct {
	Type         string      `json:"type"`
	Value        interface{} `json:"value"`
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"default_value,omitempty"`
}

// EffectiveValue returns Value, falling back to DefaultValue
func (p InputParam) EffectiveValue() interface{} {
	if p.Value != nil {
		return p.Value
	}
	return p.DefaultValue
}

// ExecutionInput is one row of the ready queue: a node waiting for its
// dependencies to finish. DependencyCount counts unfinished upstream
// nodes; a row becomes dispatchable at zero. Rows are deleted when the
// node is handed to a worker, so the queue only ever holds pending work.
type ExecutionInput struct {
	ID              string
	ExecutionID     ExecutionID
	WorkspaceID     string
	WorkflowID      string
	NodeID          string
	NodeName        string
	ScriptPath      string
	Params          map[string]InputParam
	DependencyCount int
	WaitFactor      int
	Priority        int
	MaxRetries      int
	TimeoutSeconds  int
	CreatedAt       time.Time
}

// NewExecutionInput creates a queue row for one node of an execution
func NewExecutionInput(executionID ExecutionID, workspaceID, workflowID, nodeID, nodeName, scriptPath string) (*ExecutionInput, error) {
	if executionID == "" {
		return nil, errors.New("execution ID is required")
	}
	if nodeID == "" {
		return nil, errors.New("node ID is required")
	}
	if scriptPath == "" {
		return nil, errors.New("script path is required")
	}

	return &ExecutionInput{
		ID:          NewInputID(),
		ExecutionID: executionID,
		WorkspaceID: workspaceID,
		WorkflowID:  workflowID,
		NodeID:      nodeID,
		NodeName:    nodeName,
		ScriptPath:  scriptPath,
		Params:      make(map[string]InputParam),
		CreatedAt:   time.Now(),
	}, nil
}

// Ready reports whether every upstream dependency has finished
func (i *ExecutionInput) Ready() bool {
	return i.DependencyCount == 0
}
