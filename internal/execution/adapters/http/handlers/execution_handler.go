// Package handlers binds the execution REST API to the application
// services.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/miniflow-io/miniflow/internal/execution/adapters/http/dto"
	"github.com/miniflow-io/miniflow/internal/execution/app/service"
	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/response"
)

// ExecutionHandler handles HTTP requests for executions.
type ExecutionHandler struct {
	service *service.ExecutionService
	logger  logger.Logger
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(service *service.ExecutionService, logger logger.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers execution routes on the API router.
func (h *ExecutionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/executions", h.StartExecution).Methods(http.MethodPost)
	router.HandleFunc("/executions/{id}", h.GetExecution).Methods(http.MethodGet)
	router.HandleFunc("/executions/{id}/cancel", h.CancelExecution).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/executions", h.StartWorkflowExecution).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/executions", h.ListWorkflowExecutions).Methods(http.MethodGet)
	router.HandleFunc("/workspaces/{id}/executions", h.ListWorkspaceExecutions).Methods(http.MethodGet)
}

// StartExecution launches an execution from a trigger.
func (h *ExecutionHandler) StartExecution(w http.ResponseWriter, r *http.Request) {
	var req dto.StartExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, response.BadRequest(err.Error()))
		return
	}

	result, err := h.service.StartExecution(r.Context(), service.StartExecutionCommand{
		TriggerID:   req.TriggerID,
		InputData:   req.InputData,
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		h.logger.Warn("start execution rejected", "trigger_id", req.TriggerID, "error", err)
		response.Error(w, response.FromError(err))
		return
	}

	response.Created(w, dto.StartExecutionResponse{
		Execution:  dto.FromExecution(result.Execution),
		InputCount: result.InputCount,
	})
}

// StartWorkflowExecution launches an execution directly on a workflow.
func (h *ExecutionHandler) StartWorkflowExecution(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	var req dto.StartWorkflowExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, response.BadRequest(err.Error()))
		return
	}

	result, err := h.service.StartExecutionFromWorkflow(r.Context(), service.StartFromWorkflowCommand{
		WorkspaceID: req.WorkspaceID,
		WorkflowID:  workflowID,
		InputData:   req.InputData,
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		h.logger.Warn("workflow execution rejected", "workflow_id", workflowID, "error", err)
		response.Error(w, response.FromError(err))
		return
	}

	response.Created(w, dto.StartExecutionResponse{
		Execution:  dto.FromExecution(result.Execution),
		InputCount: result.InputCount,
	})
}

// GetExecution returns one execution with its results.
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	execution, err := h.service.GetExecution(r.Context(), model.ExecutionID(executionID))
	if err != nil {
		response.Error(w, response.FromError(err))
		return
	}

	response.OK(w, dto.FromExecution(execution))
}

// CancelExecution cancels a pending or running execution.
func (h *ExecutionHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	var req dto.CancelExecutionRequest
	if r.Body != nil {
		// An empty body means a default reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	execution, err := h.service.EndExecution(r.Context(), model.ExecutionID(executionID), req.Reason)
	if err != nil {
		h.logger.Warn("cancel execution rejected", "execution_id", executionID, "error", err)
		response.Error(w, response.FromError(err))
		return
	}

	response.OK(w, dto.FromExecution(execution))
}

// ListWorkspaceExecutions lists a workspace's executions, optionally
// filtered by status.
func (h *ExecutionHandler) ListWorkspaceExecutions(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]
	page := parsePage(r)
	status := model.ExecutionStatus(r.URL.Query().Get("status"))

	executions, total, err := h.service.ListByWorkspaceAndStatus(r.Context(), workspaceID, status, page)
	if err != nil {
		response.Error(w, response.FromError(err))
		return
	}

	response.Paginated(w, dto.FromExecutions(executions), page.Page, page.PerPage, total)
}

// ListWorkflowExecutions lists a workflow's executions.
func (h *ExecutionHandler) ListWorkflowExecutions(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]
	page := parsePage(r)

	executions, err := h.service.ListByWorkflow(r.Context(), workflowID, page)
	if err != nil {
		response.Error(w, response.FromError(err))
		return
	}

	response.OK(w, dto.FromExecutions(executions))
}

func parsePage(r *http.Request) service.ListPage {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	return service.ListPage{Page: page, PerPage: perPage}.Normalized()
}
