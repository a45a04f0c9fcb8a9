// Package dto maps workflow API payloads onto application commands.
package dto

import (
	"errors"
	"fmt"
	"time"

	"github.com/miniflow-io/miniflow/internal/workflow/app/service"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/model"
)

// ParamSpec declares one node input parameter.
type ParamSpec struct {
	Type         string      `json:"type"`
	Value        interface{} `json:"value,omitempty"`
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"defaultValue,omitempty"`
}

// NodeSpec declares one node of the workflow graph.
type NodeSpec struct {
	Name           string               `json:"name"`
	ScriptID       string               `json:"scriptId,omitempty"`
	CustomScriptID string               `json:"customScriptId,omitempty"`
	InputParams    map[string]ParamSpec `json:"inputParams,omitempty"`
	MaxRetries     int                  `json:"maxRetries,omitempty"`
	TimeoutSeconds int                  `json:"timeoutSeconds,omitempty"`
	Priority       int                  `json:"priority,omitempty"`
}

// EdgeSpec declares one edge by node name.
type EdgeSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CreateWorkflowRequest creates a workflow with its graph.
type CreateWorkflowRequest struct {
	WorkspaceID string     `json:"workspaceId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Nodes       []NodeSpec `json:"nodes,omitempty"`
	Edges       []EdgeSpec `json:"edges,omitempty"`
}

// Validate checks required fields.
func (r *CreateWorkflowRequest) Validate() error {
	if r.WorkspaceID == "" {
		return errors.New("workspaceId is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	for i, node := range r.Nodes {
		if node.Name == "" {
			return fmt.Errorf("nodes[%d]: name is required", i)
		}
	}
	return nil
}

// ToCommand converts the request to the application command.
func (r *CreateWorkflowRequest) ToCommand() service.CreateWorkflowCommand {
	cmd := service.CreateWorkflowCommand{
		WorkspaceID: r.WorkspaceID,
		Name:        r.Name,
		Description: r.Description,
	}
	for _, node := range r.Nodes {
		spec := service.NodeSpec{
			Name:           node.Name,
			ScriptID:       node.ScriptID,
			CustomScriptID: node.CustomScriptID,
			MaxRetries:     node.MaxRetries,
			TimeoutSeconds: node.TimeoutSeconds,
			Priority:       node.Priority,
		}
		if len(node.InputParams) > 0 {
			spec.InputParams = make(map[string]model.ParamSpec, len(node.InputParams))
			for name, param := range node.InputParams {
				spec.InputParams[name] = model.ParamSpec{
					Type:         param.Type,
					Value:        param.Value,
					Required:     param.Required,
					DefaultValue: param.DefaultValue,
				}
			}
		}
		cmd.Nodes = append(cmd.Nodes, spec)
	}
	for _, edge := range r.Edges {
		cmd.Edges = append(cmd.Edges, service.EdgeSpec{From: edge.From, To: edge.To})
	}
	return cmd
}

// WorkflowResponse is the API representation of a workflow.
type WorkflowResponse struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NodeResponse is the API representation of a node.
type NodeResponse struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	ScriptID       *string              `json:"scriptId,omitempty"`
	CustomScriptID *string              `json:"customScriptId,omitempty"`
	InputParams    map[string]ParamSpec `json:"inputParams,omitempty"`
	MaxRetries     int                  `json:"maxRetries"`
	TimeoutSeconds int                  `json:"timeoutSeconds"`
	Priority       int                  `json:"priority"`
}

// EdgeResponse is the API representation of an edge.
type EdgeResponse struct {
	ID         string `json:"id"`
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
}

// GraphResponse is a workflow with its full graph.
type GraphResponse struct {
	Workflow WorkflowResponse `json:"workflow"`
	Nodes    []NodeResponse   `json:"nodes"`
	Edges    []EdgeResponse   `json:"edges"`
}

// FromWorkflow renders a workflow.
func FromWorkflow(workflow *model.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:          workflow.ID,
		WorkspaceID: workflow.WorkspaceID,
		Name:        workflow.Name,
		Description: workflow.Description,
		Status:      string(workflow.Status),
		CreatedAt:   workflow.CreatedAt,
		UpdatedAt:   workflow.UpdatedAt,
	}
}

// FromWorkflows renders a list of workflows.
func FromWorkflows(workflows []*model.Workflow) []WorkflowResponse {
	items := make([]WorkflowResponse, len(workflows))
	for i, workflow := range workflows {
		items[i] = FromWorkflow(workflow)
	}
	return items
}

// FromGraph renders a workflow with its nodes and edges.
func FromGraph(workflow *model.Workflow, nodes []*model.Node, edges []*model.Edge) GraphResponse {
	resp := GraphResponse{
		Workflow: FromWorkflow(workflow),
		Nodes:    make([]NodeResponse, len(nodes)),
		Edges:    make([]EdgeResponse, len(edges)),
	}
	for i, node := range nodes {
		nodeResp := NodeResponse{
			ID:             node.ID,
			Name:           node.Name,
			ScriptID:       node.ScriptID,
			CustomScriptID: node.CustomScriptID,
			MaxRetries:     node.MaxRetries,
			TimeoutSeconds: node.TimeoutSeconds,
			Priority:       node.Priority,
		}
		if len(node.InputParams) > 0 {
			nodeResp.InputParams = make(map[string]ParamSpec, len(node.InputParams))
			for name, param := range node.InputParams {
				nodeResp.InputParams[name] = ParamSpec{
					Type:         param.Type,
					Value:        param.Value,
					Required:     param.Required,
					DefaultValue: param.DefaultValue,
				}
			}
		}
		resp.Nodes[i] = nodeResp
	}
	for i, edge := range edges {
		resp.Edges[i] = EdgeResponse{ID: edge.ID, FromNodeID: edge.FromNodeID, ToNodeID: edge.ToNodeID}
	}
	return resp
}

// MappingSpec declares one trigger input key.
type MappingSpec struct {
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Value    interface{} `json:"value,omitempty"`
}

// CreateTriggerRequest creates a trigger for a workflow.
type CreateTriggerRequest struct {
	WorkspaceID    string                 `json:"workspaceId"`
	Type           string                 `json:"type"`
	CronExpression string                 `json:"cronExpression,omitempty"`
	InputMapping   map[string]MappingSpec `json:"inputMapping,omitempty"`
}

// Validate checks required fields.
func (r *CreateTriggerRequest) Validate() error {
	if r.WorkspaceID == "" {
		return errors.New("workspaceId is required")
	}
	if r.Type == "" {
		return errors.New("type is required")
	}
	if r.Type == string(model.TriggerTypeCron) && r.CronExpression == "" {
		return errors.New("cronExpression is required for cron triggers")
	}
	return nil
}

// ToInput converts the request to the application input.
func (r *CreateTriggerRequest) ToInput(workflowID string) service.CreateTriggerInput {
	input := service.CreateTriggerInput{
		WorkflowID:     workflowID,
		WorkspaceID:    r.WorkspaceID,
		Type:           model.TriggerType(r.Type),
		CronExpression: r.CronExpression,
	}
	if len(r.InputMapping) > 0 {
		input.InputMapping = make(map[string]model.MappingSpec, len(r.InputMapping))
		for key, spec := range r.InputMapping {
			input.InputMapping[key] = model.MappingSpec{
				Type:     spec.Type,
				Required: spec.Required,
				Value:    spec.Value,
			}
		}
	}
	return input
}

// TriggerResponse is the API representation of a trigger.
type TriggerResponse struct {
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

// FromTrigger renders a trigger.
func FromTrigger(trigger *model.Trigger) TriggerResponse {
	resp := TriggerResponse{
		ID:             trigger.ID,
		WorkflowID:     trigger.WorkflowID,
		WorkspaceID:    trigger.WorkspaceID,
		Type:           string(trigger.Type),
		CronExpression: trigger.CronExpression,
		Enabled:        trigger.Enabled,
		CreatedAt:      trigger.CreatedAt,
		UpdatedAt:      trigger.UpdatedAt,
	}
	if len(trigger.InputMapping) > 0 {
		resp.InputMapping = make(map[string]MappingSpec, len(trigger.InputMapping))
		for key, spec := range trigger.InputMapping {
			resp.InputMapping[key] = MappingSpec{
				Type:     spec.Type,
				Required: spec.Required,
				Value:    spec.Value,
			}
		}
	}
	return resp
}

// FromTriggers renders a list of triggers.
func FromTriggers(triggers []*model.Trigger) []TriggerResponse {
	items := make([]TriggerResponse, len(triggers))
	for i, trigger := range triggers {
		items[i] = FromTrigger(trigger)
	}
	return items
}

// RegisterScriptRequest registers a script in the global library.
type RegisterScriptRequest struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	FilePath     string                 `json:"filePath"`
	InputSchema  map[string]interface{} `json:"inputSchema,omitempty"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
}

// Validate checks required fields.
func (r *RegisterScriptRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.FilePath == "" {
		return errors.New("filePath is required")
	}
	return nil
}

// ScriptResponse is the API representation of a library script.
type ScriptResponse struct {
	ID           string                 `json:"id"`
	WorkspaceID  string                 `json:"workspaceId,omitempty"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	FilePath     string                 `json:"filePath"`
	InputSchema  map[string]interface{} `json:"inputSchema,omitempty"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// FromScript renders a global script.
func FromScript(script *model.Script) ScriptResponse {
	return ScriptResponse{
		ID:           script.ID,
		Name:         script.Name,
		Description:  script.Description,
		FilePath:     script.FilePath,
		InputSchema:  script.InputSchema,
		OutputSchema: script.OutputSchema,
		CreatedAt:    script.CreatedAt,
	}
}

// FromScripts renders a list of global scripts.
func FromScripts(scripts []*model.Script) []ScriptResponse {
	items := make([]ScriptResponse, len(scripts))
	for i, script := range scripts {
		items[i] = FromScript(script)
	}
	return items
}

// FromCustomScript renders a workspace script.
func FromCustomScript(script *model.CustomScript) ScriptResponse {
	return ScriptResponse{
		ID:           script.ID,
		WorkspaceID:  script.WorkspaceID,
		Name:         script.Name,
		Description:  script.Description,
		FilePath:     script.FilePath,
		InputSchema:  script.InputSchema,
		OutputSchema: script.OutputSchema,
		CreatedAt:    script.CreatedAt,
	}
}

// FromCustomScripts renders a list of workspace scripts.
func FromCustomScripts(scripts []*model.CustomScript) []ScriptResponse {
	items := make([]ScriptResponse, len(scripts))
	for i, script := range scripts {
		items[i] = FromCustomScript(script)
	}
	return items
}
