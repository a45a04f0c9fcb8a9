package sdk

import "time"

// Workflow is a workflow definition header.
type Workflow struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ParamSpec declares one node input parameter. Value may be a literal
// or a ${kind:body} reference resolved when the node dispatches.
type ParamSpec struct {
	Type         string      `json:"type"`
	Value        interface{} `json:"value,omitempty"`
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"defaultValue,omitempty"`
}

// NodeSpec describes one node of a workflow being created. Exactly one
// of ScriptID and CustomScriptID must be set.
type NodeSpec struct {
	Name           string               `json:"name"`
	ScriptID       string               `json:"scriptId,omitempty"`
	CustomScriptID string               `json:"customScriptId,omitempty"`
	InputParams    map[string]ParamSpec `json:"inputParams,omitempty"`
	MaxRetries     int                  `json:"maxRetries,omitempty"`
	TimeoutSeconds int                  `json:"timeoutSeconds,omitempty"`
	Priority       int                  `json:"priority,omitempty"`
}

// EdgeSpec links two nodes of a workflow being created, by node name.
type EdgeSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CreateWorkflowRequest creates a workflow with its graph in one call.
type CreateWorkflowRequest struct {
	WorkspaceID string     `json:"workspaceId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Nodes       []NodeSpec `json:"nodes,omitempty"`
	Edges       []EdgeSpec `json:"edges,omitempty"`
}

// Node is a stored workflow node.
type Node struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	ScriptID       *string              `json:"scriptId,omitempty"`
	CustomScriptID *string              `json:"customScriptId,omitempty"`
	InputParams    map[string]ParamSpec `json:"inputParams,omitempty"`
	MaxRetries     int                  `json:"maxRetries"`
	TimeoutSeconds int                  `json:"timeoutSeconds"`
	Priority       int                  `json:"priority"`
}

// Edge is a stored dependency between two nodes.
type Edge struct {
	ID         string `json:"id"`
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
}

// Graph is a workflow with its full node and edge set.
type Graph struct {
	Workflow Workflow `json:"workflow"`
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
}

// MappingSpec declares one key of a trigger's input contract.
type MappingSpec struct {
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Value    interface{} `json:"value,omitempty"`
}

// CreateTriggerRequest attaches a trigger to a workflow.
type CreateTriggerRequest struct {
	WorkspaceID    string                 `json:"workspaceId"`
	Type           string                 `json:"type"`
	CronExpression string                 `json:"cronExpression,omitempty"`
	InputMapping   map[string]MappingSpec `json:"inputMapping,omitempty"`
}

// Trigger is a stored workflow trigger.
type Trigger struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflowId"`
	WorkspaceID    string                 `json:"workspaceId"`
	Type           string                 `json:"type"`
	CronExpression string                 `json:"cronExpression,omitempty"`
	InputMapping   map[string]MappingSpec `json:"inputMapping,omitempty"`
	Enabled        bool                   `json:"enabled"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// RegisterScriptRequest registers an executable script.
type RegisterScriptRequest struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	FilePath     string                 `json:"filePath"`
	InputSchema  map[string]interface{} `json:"inputSchema,omitempty"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
}

// Script is a stored executable, global or workspace-owned.
type Script struct {
	ID           string                 `json:"id"`
	WorkspaceID  string                 `json:"workspaceId,omitempty"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	FilePath     string                 `json:"filePath"`
	InputSchema  map[string]interface{} `json:"inputSchema,omitempty"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Execution is one run of a workflow.
type Execution struct {
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

// StartExecutionRequest launches an execution from a trigger.
type StartExecutionRequest struct {
	TriggerID   string                 `json:"triggerId"`
	InputData   map[string]interface{} `json:"inputData,omitempty"`
	TriggeredBy string                 `json:"triggeredBy,omitempty"`
}

// StartFromWorkflowRequest launches an execution directly on a
// workflow, bypassing triggers.
type StartFromWorkflowRequest struct {
	WorkspaceID string                 `json:"workspaceId"`
	InputData   map[string]interface{} `json:"inputData,omitempty"`
	TriggeredBy string                 `json:"triggeredBy,omitempty"`
}

// StartResult reports a successful launch.
type StartResult struct {
	Execution  Execution `json:"execution"`
	InputCount int       `json:"inputCount"`
}

// Meta carries pagination totals on list responses.
type Meta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"perPage"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// ListExecutionsOptions filters workspace execution listings.
type ListExecutionsOptions struct {
	Status  string
	Page    int
	PerPage int
}
