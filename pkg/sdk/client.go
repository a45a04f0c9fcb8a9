// Package sdk provides a Go client for the MiniFlow REST API. Every
// method maps to one /api/v1 endpoint; API failures come back as
// *APIError carrying the engine's error code.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is the MiniFlow API client.
type Client struct {
	baseURL    string
	httpClient *http.Client

	Workflows  *WorkflowsClient
	Triggers   *TriggersClient
	Scripts    *ScriptsClient
	Executions *ExecutionsClient
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a client for the API served at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Workflows = &WorkflowsClient{client: c}
	c.Triggers = &TriggersClient{client: c}
	c.Scripts = &ScriptsClient{client: c}
	c.Executions = &ExecutionsClient{client: c}
	return c
}

// APIError is an error response from the API.
type APIError struct {
	Status  int                    `json:"-"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// envelope is the wire shape every endpoint responds with.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
	Meta    *Meta           `json:"meta,omitempty"`
}

// do runs one request and decodes the envelope into out. The returned
// Meta is nil except on paginated list responses.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (*Meta, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error != nil {
			env.Error.Status = resp.StatusCode
			return nil, env.Error
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decoding response data: %w", err)
		}
	}
	return env.Meta, nil
}

func pageQuery(page, perPage int) url.Values {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		query.Set("per_page", strconv.Itoa(perPage))
	}
	return query
}

// WorkflowsClient operates on workflow definitions.
type WorkflowsClient struct {
	client *Client
}

// Create creates a workflow together with its graph.
func (s *WorkflowsClient) Create(ctx context.Context, req CreateWorkflowRequest) (*Workflow, error) {
	var workflow Workflow
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/workflows", nil, req, &workflow); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// Get retrieves a workflow with its full graph.
func (s *WorkflowsClient) Get(ctx context.Context, id string) (*Graph, error) {
	var graph Graph
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/workflows/"+id, nil, nil, &graph); err != nil {
		return nil, err
	}
	return &graph, nil
}

// List lists the workflows of a workspace.
func (s *WorkflowsClient) List(ctx context.Context, workspaceID string, page, perPage int) ([]Workflow, error) {
	query := pageQuery(page, perPage)
	query.Set("workspace_id", workspaceID)

	var workflows []Workflow
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/workflows", query, nil, &workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

// Activate makes a workflow eligible for execution.
func (s *WorkflowsClient) Activate(ctx context.Context, id string) (*Workflow, error) {
	var workflow Workflow
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/workflows/"+id+"/activate", nil, nil, &workflow); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// Archive retires a workflow. Archived workflows refuse new launches.
func (s *WorkflowsClient) Archive(ctx context.Context, id string) (*Workflow, error) {
	var workflow Workflow
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/workflows/"+id+"/archive", nil, nil, &workflow); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// Delete removes a workflow and its graph.
func (s *WorkflowsClient) Delete(ctx context.Context, id string) error {
	_, err := s.client.do(ctx, http.MethodDelete, "/api/v1/workflows/"+id, nil, nil, nil)
	return err
}

// Start launches an execution of the workflow, bypassing triggers.
func (s *WorkflowsClient) Start(ctx context.Context, id string, req StartFromWorkflowRequest) (*StartResult, error) {
	var result StartResult
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/workflows/"+id+"/executions", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Executions lists the executions of a workflow, newest first.
func (s *WorkflowsClient) Executions(ctx context.Context, id string, page, perPage int) ([]Execution, error) {
	var executions []Execution
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/workflows/"+id+"/executions", pageQuery(page, perPage), nil, &executions); err != nil {
		return nil, err
	}
	return executions, nil
}

// TriggersClient operates on workflow triggers.
type TriggersClient struct {
	client *Client
}

// Create attaches a trigger to a workflow.
func (s *TriggersClient) Create(ctx context.Context, workflowID string, req CreateTriggerRequest) (*Trigger, error) {
	var trigger Trigger
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/workflows/"+workflowID+"/triggers", nil, req, &trigger); err != nil {
		return nil, err
	}
	return &trigger, nil
}

// Get retrieves a trigger by ID.
func (s *TriggersClient) Get(ctx context.Context, id string) (*Trigger, error) {
	var trigger Trigger
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/triggers/"+id, nil, nil, &trigger); err != nil {
		return nil, err
	}
	return &trigger, nil
}

// ListByWorkflow lists the triggers of a workflow.
func (s *TriggersClient) ListByWorkflow(ctx context.Context, workflowID string) ([]Trigger, error) {
	var triggers []Trigger
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/workflows/"+workflowID+"/triggers", nil, nil, &triggers); err != nil {
		return nil, err
	}
	return triggers, nil
}

// Enable turns a trigger on.
func (s *TriggersClient) Enable(ctx context.Context, id string) (*Trigger, error) {
	return s.setEnabled(ctx, id, "enable")
}

// Disable turns a trigger off. Disabled triggers refuse launches.
func (s *TriggersClient) Disable(ctx context.Context, id string) (*Trigger, error) {
	return s.setEnabled(ctx, id, "disable")
}

func (s *TriggersClient) setEnabled(ctx context.Context, id, action string) (*Trigger, error) {
	var trigger Trigger
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/triggers/"+id+"/"+action, nil, nil, &trigger); err != nil {
		return nil, err
	}
	return &trigger, nil
}

// ScriptsClient operates on the executable script library.
type ScriptsClient struct {
	client *Client
}

// Register adds a script to the global library.
func (s *ScriptsClient) Register(ctx context.Context, req RegisterScriptRequest) (*Script, error) {
	var script Script
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/scripts", nil, req, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

// List lists global library scripts.
func (s *ScriptsClient) List(ctx context.Context, page, perPage int) ([]Script, error) {
	var scripts []Script
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/scripts", pageQuery(page, perPage), nil, &scripts); err != nil {
		return nil, err
	}
	return scripts, nil
}

// RegisterCustom adds a workspace-owned script.
func (s *ScriptsClient) RegisterCustom(ctx context.Context, workspaceID string, req RegisterScriptRequest) (*Script, error) {
	var script Script
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/workspaces/"+workspaceID+"/scripts", nil, req, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

// ListCustom lists a workspace's own scripts.
func (s *ScriptsClient) ListCustom(ctx context.Context, workspaceID string, page, perPage int) ([]Script, error) {
	var scripts []Script
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/workspaces/"+workspaceID+"/scripts", pageQuery(page, perPage), nil, &scripts); err != nil {
		return nil, err
	}
	return scripts, nil
}

// ExecutionsClient operates on executions.
type ExecutionsClient struct {
	client *Client
}

// Start launches an execution from a trigger firing.
func (s *ExecutionsClient) Start(ctx context.Context, req StartExecutionRequest) (*StartResult, error) {
	var result StartResult
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/executions", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Get retrieves an execution by ID.
func (s *ExecutionsClient) Get(ctx context.Context, id string) (*Execution, error) {
	var execution Execution
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/executions/"+id, nil, nil, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

// Cancel cancels a pending or running execution. The reason, when
// given, is recorded on every not-yet-finished node's result entry.
func (s *ExecutionsClient) Cancel(ctx context.Context, id, reason string) (*Execution, error) {
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}

	var execution Execution
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/executions/"+id+"/cancel", nil, body, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

// ListByWorkspace lists a workspace's executions, newest first, with
// pagination totals.
func (s *ExecutionsClient) ListByWorkspace(ctx context.Context, workspaceID string, opts ListExecutionsOptions) ([]Execution, *Meta, error) {
	query := pageQuery(opts.Page, opts.PerPage)
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}

	var executions []Execution
	meta, err := s.client.do(ctx, http.MethodGet, "/api/v1/workspaces/"+workspaceID+"/executions", query, nil, &executions)
	if err != nil {
		return nil, nil, err
	}
	return executions, meta, nil
}
