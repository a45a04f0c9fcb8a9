// Package service provides workflow definition business logic
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/storage/blob"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/model"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

var (
	// ErrWorkflowNotFound is returned when a workflow does not exist
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidGraph is returned when a workflow graph fails validation
	ErrInvalidGraph = errors.New("invalid workflow graph")
)

// WorkflowService handles workflow definition logic: graphs, triggers
// and the script catalog.
type WorkflowService struct {
	workflows     repository.WorkflowRepository
	graph         repository.GraphRepository
	nodes         repository.NodeRepository
	edges         repository.EdgeRepository
	triggers      repository.TriggerRepository
	scripts       repository.ScriptRepository
	customScripts repository.CustomScriptRepository
	log           logger.Logger
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(
	workflows repository.WorkflowRepository,
	graph repository.GraphRepository,
	nodes repository.NodeRepository,
	edges repository.EdgeRepository,
	triggers repository.TriggerRepository,
	scripts repository.ScriptRepository,
	customScripts repository.CustomScriptRepository,
	log logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		workflows:     workflows,
		graph:         graph,
		nodes:         nodes,
		edges:         edges,
		triggers:      triggers,
		scripts:       scripts,
		customScripts: customScripts,
		log:           log,
	}
}

// NodeSpec declares one node of a workflow graph. Exactly one of
// ScriptID and CustomScriptID must be set.
type NodeSpec struct {
	Name           string
	ScriptID       string
	CustomScriptID string
	InputParams    map[string]model.ParamSpec
	MaxRetries     int
	TimeoutSeconds int
	Priority       int
}

// EdgeSpec declares one edge by node name
type EdgeSpec struct {
	From string
	To   string
}

// CreateWorkflowCommand represents a command to create a workflow
type CreateWorkflowCommand struct {
	WorkspaceID string
	Name        string
	Description string
	Nodes       []NodeSpec
	Edges       []EdgeSpec
}

// CreateWorkflow validates and persists a workflow with its graph
func (s *WorkflowService) CreateWorkflow(ctx context.Context, cmd CreateWorkflowCommand) (*model.Workflow, error) {
	workflow, err := model.NewWorkflow(cmd.WorkspaceID, cmd.Name, cmd.Description)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}

	nodes, edges, err := s.buildGraph(workflow.ID, cmd.Nodes, cmd.Edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}

	if err := s.graph.CreateGraph(ctx, workflow, nodes, edges); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	s.log.Info("workflow created",
		"workflow_id", workflow.ID,
		"workspace_id", workflow.WorkspaceID,
		"nodes", len(nodes),
		"edges", len(edges),
	)
	return workflow, nil
}

// buildGraph materializes node and edge specs into domain objects and
// validates the resulting graph.
func (s *WorkflowService) buildGraph(workflowID string, nodeSpecs []NodeSpec, edgeSpecs []EdgeSpec) ([]*model.Node, []*model.Edge, error) {
	nodes := make([]*model.Node, 0, len(nodeSpecs))
	byName := make(map[string]string, len(nodeSpecs))

	for _, spec := range nodeSpecs {
		if _, dup := byName[spec.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate node name %q", spec.Name)
		}

		node, err := model.NewNode(workflowID, spec.Name, spec.ScriptID, spec.CustomScriptID)
		if err != nil {
			return nil, nil, err
		}
		if spec.InputParams != nil {
			node.InputParams = spec.InputParams
		}
		if spec.MaxRetries > 0 {
			node.MaxRetries = spec.MaxRetries
		}
		if spec.TimeoutSeconds > 0 {
			node.TimeoutSeconds = spec.TimeoutSeconds
		}
		node.Priority = spec.Priority

		if err := node.Validate(); err != nil {
			return nil, nil, err
		}

		nodes = append(nodes, node)
		byName[spec.Name] = node.ID
	}

	edges := make([]*model.Edge, 0, len(edgeSpecs))
	for _, spec := range edgeSpecs {
		fromID, ok := byName[spec.From]
		if !ok {
			return nil, nil, fmt.Errorf("edge references unknown node %q", spec.From)
		}
		toID, ok := byName[spec.To]
		if !ok {
			return nil, nil, fmt.Errorf("edge references unknown node %q", spec.To)
		}

		edge, err := model.NewEdge(workflowID, fromID, toID)
		if err != nil {
			return nil, nil, err
		}
		edges = append(edges, edge)
	}

	if err := model.ValidateGraph(nodes, edges); err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// GetWorkflow gets a workflow by ID
func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	workflow, err := s.workflows.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return workflow, nil
}

// GetGraph loads a workflow with its nodes and edges
func (s *WorkflowService) GetGraph(ctx context.Context, id string) (*model.Workflow, []*model.Node, []*model.Edge, error) {
	workflow, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}

	nodes, err := s.nodes.FindByWorkflowID(ctx, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load nodes: %w", err)
	}

	edges, err := s.edges.FindByWorkflowID(ctx, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load edges: %w", err)
	}

	return workflow, nodes, edges, nil
}

// ListWorkflows lists workflows in a workspace with pagination
func (s *WorkflowService) ListWorkflows(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Workflow, error) {
	return s.workflows.ListByWorkspace(ctx, workspaceID, offset, limit)
}

// ActivateWorkflow moves a workflow to the active status
func (s *WorkflowService) ActivateWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	workflow, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.Activate(); err != nil {
		return nil, err
	}
	if err := s.workflows.Update(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return workflow, nil
}

// ArchiveWorkflow moves a workflow to the archived status
func (s *WorkflowService) ArchiveWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	workflow, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	workflow.Archive()
	if err := s.workflows.Update(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return workflow, nil
}

// DeleteWorkflow soft-deletes a workflow
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.workflows.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWorkflowNotFound
		}
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// CreateTriggerInput represents trigger creation input
type CreateTriggerInput struct {
	WorkflowID     string
	WorkspaceID    string
	Type           model.TriggerType
	CronExpression string
	InputMapping   map[string]model.MappingSpec
}

// CreateTrigger creates a trigger for a workflow. Cron triggers must
// carry a parseable five-field expression.
func (s *WorkflowService) CreateTrigger(ctx context.Context, input CreateTriggerInput) (*model.Trigger, error) {
	if _, err := s.GetWorkflow(ctx, input.WorkflowID); err != nil {
		return nil, err
	}

	trigger, err := model.NewTrigger(input.WorkflowID, input.WorkspaceID, input.Type)
	if err != nil {
		return nil, err
	}

	if input.Type == model.TriggerTypeCron {
		if _, err := cron.ParseStandard(input.CronExpression); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", input.CronExpression, err)
		}
		trigger.CronExpression = input.CronExpression
	}
	if input.InputMapping != nil {
		trigger.InputMapping = input.InputMapping
	}

	if err := s.triggers.Create(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	s.log.Info("trigger created",
		"trigger_id", trigger.ID,
		"workflow_id", trigger.WorkflowID,
		"type", trigger.Type,
	)
	return trigger, nil
}

// GetTrigger gets a trigger by ID
func (s *WorkflowService) GetTrigger(ctx context.Context, id string) (*model.Trigger, error) {
	return s.triggers.FindByID(ctx, id)
}

// ListTriggers lists the triggers of a workflow
func (s *WorkflowService) ListTriggers(ctx context.Context, workflowID string) ([]*model.Trigger, error) {
	return s.triggers.ListByWorkflow(ctx, workflowID)
}

// SetTriggerEnabled flips the enabled flag of a trigger
func (s *WorkflowService) SetTriggerEnabled(ctx context.Context, id string, enabled bool) (*model.Trigger, error) {
	trigger, err := s.triggers.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	trigger.Enabled = enabled
	if err := s.triggers.Update(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to update trigger: %w", err)
	}
	return trigger, nil
}

// RegisterScriptInput represents global script registration input
type RegisterScriptInput struct {
	Name         string
	Description  string
	FilePath     string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}
}

// RegisterScript adds an entry to the global script library. The file
// path is checked against the scripts root so catalog rows can never
// point outside it.
func (s *WorkflowService) RegisterScript(ctx context.Context, input RegisterScriptInput) (*model.Script, error) {
	if _, err := blob.GlobalScriptPath(input.FilePath); err != nil {
		return nil, fmt.Errorf("invalid script path: %w", err)
	}

	script, err := model.NewScript(input.Name, input.FilePath)
	if err != nil {
		return nil, err
	}
	script.Description = input.Description
	script.InputSchema = input.InputSchema
	script.OutputSchema = input.OutputSchema

	if err := s.scripts.Create(ctx, script); err != nil {
		return nil, fmt.Errorf("failed to register script: %w", err)
	}
	return script, nil
}

// RegisterCustomScriptInput represents workspace script registration input
type RegisterCustomScriptInput struct {
	WorkspaceID  string
	Name         string
	Description  string
	FilePath     string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}
}

// RegisterCustomScript adds a workspace-owned script entry
func (s *WorkflowService) RegisterCustomScript(ctx context.Context, input RegisterCustomScriptInput) (*model.CustomScript, error) {
	if _, err := blob.CustomScriptPath(input.WorkspaceID, input.FilePath); err != nil {
		return nil, fmt.Errorf("invalid script path: %w", err)
	}

	script, err := model.NewCustomScript(input.WorkspaceID, input.Name, input.FilePath)
	if err != nil {
		return nil, err
	}
	script.Description = input.Description
	script.InputSchema = input.InputSchema
	script.OutputSchema = input.OutputSchema

	if err := s.customScripts.Create(ctx, script); err != nil {
		return nil, fmt.Errorf("failed to register custom script: %w", err)
	}
	return script, nil
}

// ListScripts lists global scripts with pagination
func (s *WorkflowService) ListScripts(ctx context.Context, offset, limit int) ([]*model.Script, error) {
	return s.scripts.List(ctx, offset, limit)
}

// ListCustomScripts lists the custom scripts of a workspace
func (s *WorkflowService) ListCustomScripts(ctx context.Context, workspaceID string) ([]*model.CustomScript, error) {
	return s.customScripts.ListByWorkspace(ctx, workspaceID)
}
