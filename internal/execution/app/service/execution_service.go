// Package service implements the execution application layer: the
// launcher that expands a workflow into queued node work and the
// lifecycle facade exposed over HTTP.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
	"github.com/miniflow-io/miniflow/internal/shared/events"
	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
	"github.com/miniflow-io/miniflow/internal/storage/blob"
	wfmodel "github.com/miniflow-io/miniflow/internal/workflow/domain/model"
	wfrepo "github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ExecutionService launches, cancels and reads executions. Launching
// expands the workflow graph into one ExecutionInput row per node in a
// single transaction; the input handler takes it from there.
type ExecutionService struct {
	uow           repository.UnitOfWork
	stores        repository.Stores
	workflows     wfrepo.WorkflowRepository
	nodes         wfrepo.NodeRepository
	edges         wfrepo.EdgeRepository
	triggers      wfrepo.TriggerRepository
	scripts       wfrepo.ScriptRepository
	customScripts wfrepo.CustomScriptRepository
	publisher     events.Publisher
	metrics       *metrics.Metrics
	log           logger.Logger
}

// NewExecutionService creates a new execution service. publisher and
// m may be nil; events and metrics are then skipped.
func NewExecutionService(
	uow repository.UnitOfWork,
	stores repository.Stores,
	workflows wfrepo.WorkflowRepository,
	nodes wfrepo.NodeRepository,
	edges wfrepo.EdgeRepository,
	triggers wfrepo.TriggerRepository,
	scripts wfrepo.ScriptRepository,
	customScripts wfrepo.CustomScriptRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
	log logger.Logger,
) *ExecutionService {
	return &ExecutionService{
		uow:           uow,
		stores:        stores,
		workflows:     workflows,
		nodes:         nodes,
		edges:         edges,
		triggers:      triggers,
		scripts:       scripts,
		customScripts: customScripts,
		publisher:     publisher,
		metrics:       m,
		log:           log,
	}
}

// StartExecutionCommand starts an execution from a trigger firing
type StartExecutionCommand struct {
	TriggerID   string
	InputData   map[string]interface{}
	TriggeredBy string
}

// StartFromWorkflowCommand starts an execution directly on a workflow,
// bypassing any trigger. The workspace ID guards against launching a
// workflow that belongs to someone else.
type StartFromWorkflowCommand struct {
	WorkspaceID string
	WorkflowID  string
	InputData   map[string]interface{}
	TriggeredBy string
}

// StartResult reports a successful launch
type StartResult struct {
	Execution  *model.Execution
	InputCount int
}

// StartExecution validates the trigger's input mapping and launches an
// execution of its workflow.
func (s *ExecutionService) StartExecution(ctx context.Context, cmd StartExecutionCommand) (*StartResult, error) {
	if cmd.TriggerID == "" {
		return nil, errs.InvalidInput("trigger ID is required")
	}

	trigger, err := s.triggers.FindByID(ctx, cmd.TriggerID)
	if err != nil {
		if errors.Is(err, wfrepo.ErrNotFound) {
			return nil, errs.NotFound("trigger %s not found", cmd.TriggerID)
		}
		return nil, errs.Database(err, "loading trigger %s", cmd.TriggerID)
	}
	if !trigger.Enabled {
		return nil, errs.BusinessRule("trigger %s is disabled", trigger.ID)
	}

	triggerData, err := trigger.ValidateInput(cmd.InputData)
	if err != nil {
		return nil, errs.InvalidInput("trigger %s input rejected: %v", trigger.ID, err).
			WithDetail("trigger_id", trigger.ID)
	}

	workflow, err := s.loadWorkflow(ctx, trigger.WorkspaceID, trigger.WorkflowID)
	if err != nil {
		return nil, err
	}

	return s.launch(ctx, workflow, trigger.ID, string(trigger.Type), cmd.TriggeredBy, triggerData)
}

// StartExecutionFromWorkflow launches an execution of a workflow
// without a trigger, e.g. from the API or an ad-hoc run.
func (s *ExecutionService) StartExecutionFromWorkflow(ctx context.Context, cmd StartFromWorkflowCommand) (*StartResult, error) {
	if cmd.WorkflowID == "" {
		return nil, errs.InvalidInput("workflow ID is required")
	}

	workflow, err := s.loadWorkflow(ctx, cmd.WorkspaceID, cmd.WorkflowID)
	if err != nil {
		return nil, err
	}

	inputData := cmd.InputData
	if inputData == nil {
		inputData = make(map[string]interface{})
	}

	return s.launch(ctx, workflow, "", string(wfmodel.TriggerTypeManual), cmd.TriggeredBy, inputData)
}

// loadWorkflow resolves a workflow and checks workspace ownership. A
// workflow in another workspace reads as absent.
func (s *ExecutionService) loadWorkflow(ctx context.Context, workspaceID, workflowID string) (*wfmodel.Workflow, error) {
	workflow, err := s.workflows.FindByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, wfrepo.ErrNotFound) {
			return nil, errs.NotFound("workflow %s not found", workflowID)
		}
		return nil, errs.Database(err, "loading workflow %s", workflowID)
	}
	if workspaceID != "" && workflow.WorkspaceID != workspaceID {
		return nil, errs.NotFound("workflow %s not found in workspace %s", workflowID, workspaceID)
	}
	if workflow.Status == wfmodel.WorkflowStatusArchived {
		return nil, errs.BusinessRule("workflow %s is archived", workflowID)
	}
	return workflow, nil
}

// launch creates the execution and its ready-queue rows in one
// transaction. A workflow without nodes finalizes COMPLETED on the
// spot; nothing ever reaches the queue for it.
func (s *ExecutionService) launch(
	ctx context.Context,
	workflow *wfmodel.Workflow,
	triggerID, triggerType, triggeredBy string,
	triggerData map[string]interface{},
) (*StartResult, error) {
	nodes, err := s.nodes.FindByWorkflowID(ctx, workflow.ID)
	if err != nil {
		return nil, errs.Database(err, "loading nodes of workflow %s", workflow.ID)
	}
	edges, err := s.edges.FindByWorkflowID(ctx, workflow.ID)
	if err != nil {
		return nil, errs.Database(err, "loading edges of workflow %s", workflow.ID)
	}

	scriptPaths, err := s.resolveScriptPaths(ctx, workflow.WorkspaceID, nodes)
	if err != nil {
		return nil, err
	}

	execution, err := model.NewExecution(workflow.WorkspaceID, workflow.ID, triggerID, triggeredBy, triggerData)
	if err != nil {
		return nil, errs.InvalidInput("creating execution: %v", err)
	}

	degrees := wfmodel.InDegrees(nodes, edges)
	inputs := make([]*model.ExecutionInput, 0, len(nodes))
	for _, node := range nodes {
		input, err := s.buildInput(execution, workflow, node, scriptPaths, degrees[node.ID])
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}

	if len(inputs) == 0 {
		// Complete from PENDING so the row is born terminal.
		if err := execution.Complete(map[string]interface{}{}); err != nil {
			return nil, errs.BusinessRule("finalizing empty workflow %s: %v", workflow.ID, err)
		}
	}

	err = s.uow.InTransaction(ctx, func(stores repository.Stores) error {
		if err := stores.Executions().Create(ctx, execution); err != nil {
			return err
		}
		if len(inputs) > 0 {
			return stores.Inputs().CreateBatch(ctx, inputs)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Transaction(err, "launching workflow %s", workflow.ID)
	}

	if s.metrics != nil {
		s.metrics.ExecutionsStarted.WithLabelValues(triggerType).Inc()
		s.metrics.InputsCreated.Add(float64(len(inputs)))
	}

	s.publish(execution.WorkspaceID(), events.ExecutionStarted{
		ExecutionID: execution.ID().String(),
		WorkflowID:  workflow.ID,
		WorkspaceID: workflow.WorkspaceID,
		TriggerType: triggerType,
		NodeCount:   len(inputs),
		StartedAt:   *execution.StartedAt(),
	})
	if len(inputs) == 0 {
		s.publish(execution.WorkspaceID(), events.ExecutionCompleted{
			ExecutionID: execution.ID().String(),
			WorkflowID:  workflow.ID,
			CompletedAt: *execution.EndedAt(),
		})
	}

	s.log.Info("execution launched",
		"execution_id", execution.ID(),
		"workflow_id", workflow.ID,
		"workspace_id", workflow.WorkspaceID,
		"trigger_type", triggerType,
		"inputs", len(inputs),
	)

	return &StartResult{Execution: execution, InputCount: len(inputs)}, nil
}

// resolveScriptPaths bulk-loads the executables referenced by nodes,
// one round-trip per kind, and maps executable ID to storage path.
func (s *ExecutionService) resolveScriptPaths(ctx context.Context, workspaceID string, nodes []*wfmodel.Node) (map[string]string, error) {
	var scriptIDs, customIDs []string
	for _, node := range nodes {
		id, custom := node.Executable()
		if id == "" {
			return nil, errs.NotFound("node %s has no executable", node.ID)
		}
		if custom {
			customIDs = append(customIDs, id)
		} else {
			scriptIDs = append(scriptIDs, id)
		}
	}

	paths := make(map[string]string, len(nodes))

	if len(scriptIDs) > 0 {
		scripts, err := s.scripts.FindByIDs(ctx, scriptIDs)
		if err != nil {
			return nil, errs.Database(err, "loading scripts")
		}
		for _, script := range scripts {
			p, err := blob.GlobalScriptPath(script.FilePath)
			if err != nil {
				return nil, errs.InvalidInput("script %s has invalid file path: %v", script.ID, err)
			}
			paths[script.ID] = p
		}
	}

	if len(customIDs) > 0 {
		customScripts, err := s.customScripts.FindByIDs(ctx, customIDs)
		if err != nil {
			return nil, errs.Database(err, "loading custom scripts")
		}
		for _, script := range customScripts {
			if script.WorkspaceID != workspaceID {
				continue // reads as missing below
			}
			p, err := blob.CustomScriptPath(script.WorkspaceID, script.FilePath)
			if err != nil {
				return nil, errs.InvalidInput("custom script %s has invalid file path: %v", script.ID, err)
			}
			paths[script.ID] = p
		}
	}

	return paths, nil
}

// buildInput snapshots one node into a ready-queue row
func (s *ExecutionService) buildInput(
	execution *model.Execution,
	workflow *wfmodel.Workflow,
	node *wfmodel.Node,
	scriptPaths map[string]string,
	dependencyCount int,
) (*model.ExecutionInput, error) {
	executableID, _ := node.Executable()
	scriptPath, ok := scriptPaths[executableID]
	if !ok {
		return nil, errs.NotFound("node %s references missing executable %s", node.ID, executableID).
			WithDetail("node_id", node.ID).
			WithDetail("executable_id", executableID)
	}

	input, err := model.NewExecutionInput(execution.ID(), workflow.WorkspaceID, workflow.ID, node.ID, node.Name, scriptPath)
	if err != nil {
		return nil, errs.InvalidInput("creating input for node %s: %v", node.ID, err)
	}

	for name, spec := range node.InputParams {
		if spec.Required && spec.Value == nil && spec.DefaultValue == nil {
			return nil, errs.InvalidInput("required parameter %q of node %s has neither value nor default", name, node.Name).
				WithDetail("node_id", node.ID).
				WithDetail("parameter", name)
		}
		input.Params[name] = model.InputParam{
			Type:         spec.Type,
			Value:        spec.Value,
			Required:     spec.Required,
			DefaultValue: spec.DefaultValue,
		}
	}

	input.DependencyCount = dependencyCount
	input.Priority = node.Priority
	input.MaxRetries = node.MaxRetries
	input.TimeoutSeconds = node.TimeoutSeconds
	return input, nil
}

// EndExecution cancels a non-terminal execution: remaining queue rows
// become CANCELLED result entries, collected outputs are consolidated,
// and both tables are cleared in the same transaction that flips the
// status.
func (s *ExecutionService) EndExecution(ctx context.Context, id model.ExecutionID, reason string) (*model.Execution, error) {
	if reason == "" {
		reason = "Cancelled by user request"
	}

	var cancelled *model.Execution
	err := s.uow.InTransaction(ctx, func(stores repository.Stores) error {
		execution, err := stores.Executions().FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return errs.NotFound("execution %s not found", id)
			}
			return errs.Database(err, "locking execution %s", id)
		}
		if execution.Terminal() {
			return errs.BusinessRule("execution %s is already %s", id, execution.Status())
		}

		inputs, err := stores.Inputs().ListByExecutionID(ctx, id)
		if err != nil {
			return errs.Database(err, "loading inputs of execution %s", id)
		}
		outputs, err := stores.Outputs().ListByExecutionID(ctx, id)
		if err != nil {
			return errs.Database(err, "loading outputs of execution %s", id)
		}

		results := make(map[string]interface{}, len(inputs)+len(outputs))
		for _, output := range outputs {
			results[output.NodeID] = output.ResultEntry()
		}
		for _, input := range inputs {
			results[input.NodeID] = model.NewCancelledOutputWithMessage(input, reason).ResultEntry()
		}

		if err := stores.Inputs().DeleteByExecutionID(ctx, id); err != nil {
			return errs.Database(err, "deleting inputs of execution %s", id)
		}
		if err := stores.Outputs().DeleteByExecutionID(ctx, id); err != nil {
			return errs.Database(err, "deleting outputs of execution %s", id)
		}

		if err := execution.Cancel(results); err != nil {
			return errs.BusinessRule("cancelling execution %s: %v", id, err)
		}
		if err := stores.Executions().Update(ctx, execution); err != nil {
			return errs.Database(err, "updating execution %s", id)
		}

		cancelled = execution
		return nil
	})
	if err != nil {
		var engineErr *errs.Error
		if errors.As(err, &engineErr) {
			return nil, err
		}
		return nil, errs.Transaction(err, "cancelling execution %s", id)
	}

	if s.metrics != nil {
		s.metrics.Finalizations.WithLabelValues(string(model.ExecutionStatusCancelled)).Inc()
	}
	s.publish(cancelled.WorkspaceID(), events.ExecutionCancelled{
		ExecutionID: cancelled.ID().String(),
		WorkflowID:  cancelled.WorkflowID(),
		CancelledAt: *cancelled.EndedAt(),
	})

	s.log.Info("execution cancelled",
		"execution_id", cancelled.ID(),
		"workspace_id", cancelled.WorkspaceID(),
		"reason", reason,
	)
	return cancelled, nil
}

// GetExecution gets an execution by ID
func (s *ExecutionService) GetExecution(ctx context.Context, id model.ExecutionID) (*model.Execution, error) {
	execution, err := s.stores.Executions().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errs.NotFound("execution %s not found", id)
		}
		return nil, errs.Database(err, "loading execution %s", id)
	}
	return execution, nil
}

// ListPage is the standard pagination request: 1-based page, bounded
// page size.
type ListPage struct {
	Page    int
	PerPage int
}

func (p ListPage) normalize() (offset, limit int) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	perPage := p.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return (page - 1) * perPage, perPage
}

// Normalized returns the page with defaults and caps applied, for
// echoing back in list responses.
func (p ListPage) Normalized() ListPage {
	offset, limit := p.normalize()
	return ListPage{Page: offset/limit + 1, PerPage: limit}
}

// ListByWorkspaceAndStatus lists executions of a workspace ordered by
// started_at descending. An empty status lists every execution.
func (s *ExecutionService) ListByWorkspaceAndStatus(ctx context.Context, workspaceID string, status model.ExecutionStatus, page ListPage) ([]*model.Execution, int64, error) {
	if workspaceID == "" {
		return nil, 0, errs.InvalidInput("workspace ID is required")
	}
	switch status {
	case "", model.ExecutionStatusPending, model.ExecutionStatusRunning,
		model.ExecutionStatusCompleted, model.ExecutionStatusFailed, model.ExecutionStatusCancelled:
	default:
		return nil, 0, errs.InvalidInput("unknown execution status %q", status)
	}

	offset, limit := page.normalize()
	executions, err := s.stores.Executions().ListByWorkspace(ctx, workspaceID, status, offset, limit)
	if err != nil {
		return nil, 0, errs.Database(err, "listing executions of workspace %s", workspaceID)
	}
	total, err := s.stores.Executions().CountByWorkspace(ctx, workspaceID, status)
	if err != nil {
		return nil, 0, errs.Database(err, "counting executions of workspace %s", workspaceID)
	}
	return executions, total, nil
}

// ListByWorkflow lists executions of a workflow ordered by started_at
// descending.
func (s *ExecutionService) ListByWorkflow(ctx context.Context, workflowID string, page ListPage) ([]*model.Execution, error) {
	if workflowID == "" {
		return nil, errs.InvalidInput("workflow ID is required")
	}
	offset, limit := page.normalize()
	executions, err := s.stores.Executions().ListByWorkflow(ctx, workflowID, offset, limit)
	if err != nil {
		return nil, errs.Database(err, "listing executions of workflow %s", workflowID)
	}
	return executions, nil
}

// publish wraps a payload and sends it best effort
func (s *ExecutionService) publish(workspaceID string, payload interface{}) {
	if s.publisher == nil {
		return
	}

	var executionID string
	switch p := payload.(type) {
	case events.ExecutionStarted:
		executionID = p.ExecutionID
	case events.ExecutionCompleted:
		executionID = p.ExecutionID
	case events.ExecutionCancelled:
		executionID = p.ExecutionID
	case events.ExecutionFailed:
		executionID = p.ExecutionID
	}

	event, err := events.NewEvent(executionID, workspaceID, payload)
	if err != nil {
		s.log.Error("building lifecycle event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		if s.metrics != nil {
			s.metrics.EventPublishErrors.Inc()
		}
		s.log.Warn("publishing lifecycle event failed",
			"event_type", event.EventType,
			"execution_id", executionID,
			"error", err,
		)
		return
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(event.EventType).Inc()
	}
}
