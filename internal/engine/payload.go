// Package engine defines the queue contract between the scheduler and
// the worker engine that runs node scripts.
package engine

import (
	"fmt"
	"time"
)

// ProcessTypeIOB tags every task payload so workers route it to the
// input/output bridge runner.
const ProcessTypeIOB = "iob"

// Result statuses reported by the worker engine.
const (
	ResultStatusSuccess = "SUCCESS"
	ResultStatusFailed  = "FAILED"
)

// TaskPayload is a self-contained unit of node work submitted to the
// worker engine. Params are fully resolved; workers never touch the
// database.
type TaskPayload struct {
	ExecutionID    string                 `json:"execution_id"`
	NodeID         string                 `json:"node_id"`
	WorkflowID     string                 `json:"workflow_id"`
	WorkspaceID    string                 `json:"workspace_id"`
	ScriptPath     string                 `json:"script_path"`
	Params         map[string]interface{} `json:"params"`
	MaxRetries     int                    `json:"max_retries"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
	ProcessType    string                 `json:"process_type"`
}

// ResultPayload is one node outcome reported by the worker engine.
type ResultPayload struct {
	ExecutionID  string                 `json:"execution_id"`
	NodeID       string                 `json:"node_id"`
	Status       string                 `json:"status"`
	ResultData   map[string]interface{} `json:"result_data,omitempty"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	EndedAt      *time.Time             `json:"ended_at,omitempty"`
	MemoryMB     *float64               `json:"memory_mb,omitempty"`
	CPUPercent   *float64               `json:"cpu_percent,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
	RetryCount   int                    `json:"retry_count,omitempty"`
}

// Validate rejects result payloads that cannot be applied.
func (r *ResultPayload) Validate() error {
	if r.ExecutionID == "" {
		return fmt.Errorf("result payload missing execution_id")
	}
	if r.NodeID == "" {
		return fmt.Errorf("result payload missing node_id")
	}
	if r.Status != ResultStatusSuccess && r.Status != ResultStatusFailed {
		return fmt.Errorf("result payload has unknown status %q", r.Status)
	}
	return nil
}
