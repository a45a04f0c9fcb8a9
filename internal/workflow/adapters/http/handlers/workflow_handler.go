// Package handlers binds the workflow definition REST API to the
// application services.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/response"
	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
	"github.com/miniflow-io/miniflow/internal/workflow/adapters/http/dto"
	"github.com/miniflow-io/miniflow/internal/workflow/app/service"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// WorkflowHandler handles HTTP requests for workflow definitions,
// triggers and the script catalog.
type WorkflowHandler struct {
	service *service.WorkflowService
	logger  logger.Logger
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(service *service.WorkflowService, logger logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers workflow routes on the API router.
func (h *WorkflowHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/workflows", h.CreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows", h.ListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", h.GetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", h.DeleteWorkflow).Methods(http.MethodDelete)
	router.HandleFunc("/workflows/{id}/activate", h.ActivateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/archive", h.ArchiveWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/triggers", h.CreateTrigger).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/triggers", h.ListTriggers).Methods(http.MethodGet)
	router.HandleFunc("/triggers/{id}", h.GetTrigger).Methods(http.MethodGet)
	router.HandleFunc("/triggers/{id}/enable", h.EnableTrigger).Methods(http.MethodPost)
	router.HandleFunc("/triggers/{id}/disable", h.DisableTrigger).Methods(http.MethodPost)
	router.HandleFunc("/scripts", h.RegisterScript).Methods(http.MethodPost)
	router.HandleFunc("/scripts", h.ListScripts).Methods(http.MethodGet)
	router.HandleFunc("/workspaces/{id}/scripts", h.RegisterCustomScript).Methods(http.MethodPost)
	router.HandleFunc("/workspaces/{id}/scripts", h.ListCustomScripts).Methods(http.MethodGet)
}

// CreateWorkflow creates a workflow with its graph.
func (h *WorkflowHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, response.BadRequest(err.Error()))
		return
	}

	workflow, err := h.service.CreateWorkflow(r.Context(), req.ToCommand())
	if err != nil {
		h.logger.Warn("create workflow rejected", "name", req.Name, "error", err)
		response.Error(w, apiError(err, http.StatusBadRequest))
		return
	}

	response.Created(w, dto.FromWorkflow(workflow))
}

// GetWorkflow returns a workflow with its graph.
func (h *WorkflowHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	workflow, nodes, edges, err := h.service.GetGraph(r.Context(), workflowID)
	if err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.OK(w, dto.FromGraph(workflow, nodes, edges))
}

// ListWorkflows lists the workflows of a workspace.
func (h *WorkflowHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		response.Error(w, response.BadRequest("workspace_id is required"))
		return
	}
	offset, limit := parsePage(r)

	workflows, err := h.service.ListWorkflows(r.Context(), workspaceID, offset, limit)
	if err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.OK(w, dto.FromWorkflows(workflows))
}

// ActivateWorkflow moves a workflow to the active status.
func (h *WorkflowHandler) ActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	workflow, err := h.service.ActivateWorkflow(r.Context(), workflowID)
	if err != nil {
		response.Error(w, apiError(err, http.StatusConflict))
		return
	}

	response.OK(w, dto.FromWorkflow(workflow))
}

// ArchiveWorkflow moves a workflow to the archived status.
func (h *WorkflowHandler) ArchiveWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	workflow, err := h.service.ArchiveWorkflow(r.Context(), workflowID)
	if err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.OK(w, dto.FromWorkflow(workflow))
}

// DeleteWorkflow removes a workflow.
func (h *WorkflowHandler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	if err := h.service.DeleteWorkflow(r.Context(), workflowID); err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.NoContent(w)
}

// CreateTrigger creates a trigger for a workflow.
func (h *WorkflowHandler) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	var req dto.CreateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, response.BadRequest(err.Error()))
		return
	}

	trigger, err := h.service.CreateTrigger(r.Context(), req.ToInput(workflowID))
	if err != nil {
		h.logger.Warn("create trigger rejected", "workflow_id", workflowID, "error", err)
		response.Error(w, apiError(err, http.StatusBadRequest))
		return
	}

	response.Created(w, dto.FromTrigger(trigger))
}

// GetTrigger returns one trigger.
func (h *WorkflowHandler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID := mux.Vars(r)["id"]

	trigger, err := h.service.GetTrigger(r.Context(), triggerID)
	if err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.OK(w, dto.FromTrigger(trigger))
}

// ListTriggers lists the triggers of a workflow.
func (h *WorkflowHandler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	triggers, err := h.service.ListTriggers(r.Context(), workflowID)
	if err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.OK(w, dto.FromTriggers(triggers))
}

// EnableTrigger enables a trigger.
func (h *WorkflowHandler) EnableTrigger(w http.ResponseWriter, r *http.Request) {
	h.setTriggerEnabled(w, r, true)
}

// DisableTrigger disables a trigger.
func (h *WorkflowHandler) DisableTrigger(w http.ResponseWriter, r *http.Request) {
	h.setTriggerEnabled(w, r, false)
}

func (h *WorkflowHandler) setTriggerEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	triggerID := mux.Vars(r)["id"]

	trigger, err := h.service.SetTriggerEnabled(r.Context(), triggerID, enabled)
	if err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.OK(w, dto.FromTrigger(trigger))
}

// RegisterScript adds a script to the global library.
func (h *WorkflowHandler) RegisterScript(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, response.BadRequest(err.Error()))
		return
	}

	script, err := h.service.RegisterScript(r.Context(), service.RegisterScriptInput{
		Name:         req.Name,
		Description:  req.Description,
		FilePath:     req.FilePath,
		InputSchema:  req.InputSchema,
		OutputSchema: req.OutputSchema,
	})
	if err != nil {
		h.logger.Warn("register script rejected", "name", req.Name, "error", err)
		response.Error(w, apiError(err, http.StatusBadRequest))
		return
	}

	response.Created(w, dto.FromScript(script))
}

// ListScripts lists the global script library.
func (h *WorkflowHandler) ListScripts(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePage(r)

	scripts, err := h.service.ListScripts(r.Context(), offset, limit)
	if err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.OK(w, dto.FromScripts(scripts))
}

// RegisterCustomScript adds a workspace-owned script.
func (h *WorkflowHandler) RegisterCustomScript(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]

	var req dto.RegisterScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, response.BadRequest(err.Error()))
		return
	}

	script, err := h.service.RegisterCustomScript(r.Context(), service.RegisterCustomScriptInput{
		WorkspaceID:  workspaceID,
		Name:         req.Name,
		Description:  req.Description,
		FilePath:     req.FilePath,
		InputSchema:  req.InputSchema,
		OutputSchema: req.OutputSchema,
	})
	if err != nil {
		h.logger.Warn("register custom script rejected",
			"workspace_id", workspaceID,
			"name", req.Name,
			"error", err,
		)
		response.Error(w, apiError(err, http.StatusBadRequest))
		return
	}

	response.Created(w, dto.FromCustomScript(script))
}

// ListCustomScripts lists a workspace's scripts.
func (h *WorkflowHandler) ListCustomScripts(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]

	scripts, err := h.service.ListCustomScripts(r.Context(), workspaceID)
	if err != nil {
		response.Error(w, apiError(err, http.StatusInternalServerError))
		return
	}

	response.OK(w, dto.FromCustomScripts(scripts))
}

// apiError maps workflow service errors onto HTTP statuses. Unmatched
// errors use the fallback status; internal fallbacks hide the message.
func apiError(err error, fallback int) *response.APIError {
	switch {
	case errors.Is(err, service.ErrWorkflowNotFound), errors.Is(err, repository.ErrNotFound):
		return &response.APIError{
			StatusCode: http.StatusNotFound,
			Code:       string(errs.KindResourceNotFound),
			Message:    err.Error(),
		}
	case errors.Is(err, service.ErrInvalidGraph):
		return &response.APIError{
			StatusCode: http.StatusBadRequest,
			Code:       string(errs.KindInvalidInput),
			Message:    err.Error(),
		}
	}

	if fallback == http.StatusInternalServerError {
		return &response.APIError{
			StatusCode: fallback,
			Code:       "INTERNAL_ERROR",
			Message:    "internal server error",
		}
	}
	code := errs.KindInvalidInput
	if fallback == http.StatusConflict {
		code = errs.KindBusinessRuleViolation
	}
	return &response.APIError{
		StatusCode: fallback,
		Code:       string(code),
		Message:    err.Error(),
	}
}

func parsePage(r *http.Request) (offset, limit int) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return (page - 1) * perPage, perPage
}
