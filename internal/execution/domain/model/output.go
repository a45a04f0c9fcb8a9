package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewOutputID creates a new prefixed execution output ID
func NewOutputID() string {
	return "EXO-" + uuid.New().String()
}

// OutputStatus represents the outcome of one node run
type OutputStatus string

const (
	OutputStatusSuccess   OutputStatus = "SUCCESS"
	OutputStatusFailed    OutputStatus = "FAILED"
	OutputStatusCancelled OutputStatus = "CANCELLED"
)

// ExecutionOutput records the result of one node run, successful or
// not. CANCELLED rows are synthesized for nodes that never ran because
// an upstream node failed.
type ExecutionOutput struct {
	ID           string
	ExecutionID  ExecutionID
	NodeID       string
	NodeName     string
	Status       OutputStatus
	ResultData   map[string]interface{}
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     float64
	MemoryMB     float64
	CPUPercent   float64
	ErrorMessage string
	ErrorDetails map[string]interface{}
	RetryCount   int
	CreatedAt    time.Time
}

// NewExecutionOutput records a worker result for a node
func NewExecutionOutput(executionID ExecutionID, nodeID, nodeName string, status OutputStatus) *ExecutionOutput {
	return &ExecutionOutput{
		ID:          NewOutputID(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		NodeName:    nodeName,
		Status:      status,
		ResultData:  make(map[string]interface{}),
		CreatedAt:   time.Now(),
	}
}

// NewCancelledOutput synthesizes the output row for a node that was
// never dispatched because an upstream node failed.
func NewCancelledOutput(input *ExecutionInput, failedNodeID string) *ExecutionOutput {
	return NewCancelledOutputWithMessage(input, fmt.Sprintf("Cancelled because of failed node: %s", failedNodeID))
}

// NewCancelledOutputWithMessage synthesizes a cancelled output row
// with a caller-supplied reason, e.g. a user-requested cancellation.
func NewCancelledOutputWithMessage(input *ExecutionInput, message string) *ExecutionOutput {
	now := time.Now()
	out := NewExecutionOutput(input.ExecutionID, input.NodeID, input.NodeName, OutputStatusCancelled)
	out.StartedAt = now
	out.EndedAt = now
	out.ErrorMessage = message
	return out
}

// Succeeded reports whether the node ran to completion
func (o *ExecutionOutput) Succeeded() bool {
	return o.Status == OutputStatusSuccess
}

// ResultEntry renders the output as one entry of the consolidated
// Execution.results map, keyed by node ID.
func (o *ExecutionOutput) ResultEntry() map[string]interface{} {
	entry := map[string]interface{}{
		"node_name":   o.NodeName,
		"status":      string(o.Status),
		"result_data": o.ResultData,
		"duration":    o.Duration,
		"retry_count": o.RetryCount,
	}
	if !o.StartedAt.IsZero() {
		entry["started_at"] = o.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if !o.EndedAt.IsZero() {
		entry["ended_at"] = o.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if o.MemoryMB > 0 {
		entry["memory_mb"] = o.MemoryMB
	}
	if o.CPUPercent > 0 {
		entry["cpu_percent"] = o.CPUPercent
	}
	if o.ErrorMessage != "" {
		entry["error_message"] = o.ErrorMessage
	}
	if len(o.ErrorDetails) > 0 {
		entry["error_details"] = o.ErrorDetails
	}
	return entry
}
