// Package events defines the execution lifecycle events published to
// Kafka and fanned out to the websocket feed.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every lifecycle event.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	EventType     string          `json:"eventType"`
	EventVersion  int             `json:"eventVersion"`
	Timestamp     time.Time       `json:"timestamp"`
	WorkspaceID   string          `json:"workspaceId"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher delivers lifecycle events. Publishing is best effort: the
// engine never fails an execution because an event could not be sent.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NewEvent wraps a payload in an envelope keyed by the execution it
// belongs to.
func NewEvent(executionID, workspaceID string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   executionID,
		AggregateType: "execution",
		EventType:     GetEventType(payload),
		EventVersion:  1,
		Timestamp:     time.Now(),
		WorkspaceID:   workspaceID,
		Payload:       payloadBytes,
	}, nil
}

// ExecutionStarted is emitted when the launcher creates an execution.
type ExecutionStarted struct {
	ExecutionID string    `json:"executionId"`
	WorkflowID  string    `json:"workflowId"`
	WorkspaceID string    `json:"workspaceId"`
	TriggerType string    `json:"triggerType"`
	NodeCount   int       `json:"nodeCount"`
	StartedAt   time.Time `json:"startedAt"`
}

// ExecutionCompleted is emitted when every node of an execution has
// finished successfully.
type ExecutionCompleted struct {
	ExecutionID string    `json:"executionId"`
	WorkflowID  string    `json:"workflowId"`
	CompletedAt time.Time `json:"completedAt"`
}

// ExecutionFailed is emitted when a node failure finalizes an
// execution.
type ExecutionFailed struct {
	ExecutionID string    `json:"executionId"`
	WorkflowID  string    `json:"workflowId"`
	FailedNode  string    `json:"failedNode"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failedAt"`
}

// ExecutionCancelled is emitted when an execution is cancelled from
// the API.
type ExecutionCancelled struct {
	ExecutionID string    `json:"executionId"`
	WorkflowID  string    `json:"workflowId"`
	CancelledAt time.Time `json:"cancelledAt"`
}

// NodeCompleted is emitted for every node result the output handler
// applies.
type NodeCompleted struct {
	ExecutionID string    `json:"executionId"`
	NodeID      string    `json:"nodeId"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completedAt"`
}

// GetEventType maps a payload to its event type name.
func GetEventType(payload interface{}) string {
	switch payload.(type) {
	case ExecutionStarted, *ExecutionStarted:
		return "execution.started"
	case ExecutionCompleted, *ExecutionCompleted:
		return "execution.completed"
	case ExecutionFailed, *ExecutionFailed:
		return "execution.failed"
	case ExecutionCancelled, *ExecutionCancelled:
		return "execution.cancelled"
	case NodeCompleted, *NodeCompleted:
		return "execution.node.completed"
	default:
		return "unknown"
	}
}
