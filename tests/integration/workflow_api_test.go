package integration

import (
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"

	"github.com/miniflow-io/miniflow/internal/execution/testutil"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
	wfdto "github.com/miniflow-io/miniflow/internal/workflow/adapters/http/dto"
	wfhandlers "github.com/miniflow-io/miniflow/internal/workflow/adapters/http/handlers"
	wfservice "github.com/miniflow-io/miniflow/internal/workflow/app/service"
	"github.com/miniflow-io/miniflow/tests/helpers"
)

const testWorkspace = "WSP-integration"

// WorkflowAPISuite exercises the workflow definition REST surface
// against the real service, routed exactly as the API binary mounts it.
type WorkflowAPISuite struct {
	suite.Suite

	cat    *testutil.Catalog
	server *helpers.TestServer
}

func (s *WorkflowAPISuite) SetupTest() {
	s.cat = testutil.NewCatalog()

	log := logger.NewNop()
	svc := wfservice.NewWorkflowService(
		s.cat.Workflows(), s.cat.Graph(), s.cat.Nodes(), s.cat.Edges(),
		s.cat.Triggers(), s.cat.Scripts(), s.cat.CustomScripts(), log,
	)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	wfhandlers.NewWorkflowHandler(svc, log).RegisterRoutes(api)

	s.server = helpers.NewTestServer(s.T(), router)
}

func (s *WorkflowAPISuite) registerScript(name string) wfdto.ScriptResponse {
	var script wfdto.ScriptResponse
	s.server.POST("/api/v1/scripts", map[string]interface{}{
		"name":     name,
		"filePath": name + ".py",
	}).ExpectCreated().DecodeData(&script)
	return script
}

func (s *WorkflowAPISuite) createWorkflow(name, scriptID string, nodeNames []string, edges [][2]string) wfdto.WorkflowResponse {
	nodes := make([]map[string]interface{}, 0, len(nodeNames))
	for _, nodeName := range nodeNames {
		nodes = append(nodes, map[string]interface{}{"name": nodeName, "scriptId": scriptID})
	}
	edgeSpecs := make([]map[string]string, 0, len(edges))
	for _, edge := range edges {
		edgeSpecs = append(edgeSpecs, map[string]string{"from": edge[0], "to": edge[1]})
	}

	var workflow wfdto.WorkflowResponse
	s.server.POST("/api/v1/workflows", map[string]interface{}{
		"workspaceId": testWorkspace,
		"name":        name,
		"nodes":       nodes,
		"edges":       edgeSpecs,
	}).ExpectCreated().DecodeData(&workflow)
	return workflow
}

func (s *WorkflowAPISuite) TestCreateAndFetchWorkflowGraph() {
	script := s.registerScript("step")
	workflow := s.createWorkflow("etl", script.ID, []string{"extract", "transform", "load"},
		[][2]string{{"extract", "transform"}, {"transform", "load"}})

	s.Equal("draft", workflow.Status)
	s.Equal(testWorkspace, workflow.WorkspaceID)
	s.Equal("etl", workflow.Name)

	var graph wfdto.GraphResponse
	s.server.GET("/api/v1/workflows/" + workflow.ID).ExpectOK().DecodeData(&graph)

	s.Equal(workflow.ID, graph.Workflow.ID)
	s.Len(graph.Nodes, 3)
	s.Len(graph.Edges, 2)

	names := make([]string, 0, len(graph.Nodes))
	for _, node := range graph.Nodes {
		names = append(names, node.Name)
		s.Require().NotNil(node.ScriptID)
		s.Equal(script.ID, *node.ScriptID)
	}
	s.ElementsMatch([]string{"extract", "transform", "load"}, names)
}

func (s *WorkflowAPISuite) TestCreateWorkflowRejectsBadGraphs() {
	script := s.registerScript("step")

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{
			name:    "missing workspace",
			payload: map[string]interface{}{"name": "etl"},
		},
		{
			name:    "missing name",
			payload: map[string]interface{}{"workspaceId": testWorkspace},
		},
		{
			name: "node without executable",
			payload: map[string]interface{}{
				"workspaceId": testWorkspace,
				"name":        "etl",
				"nodes":       []map[string]interface{}{{"name": "extract"}},
			},
		},
		{
			name: "duplicate node names",
			payload: map[string]interface{}{
				"workspaceId": testWorkspace,
				"name":        "etl",
				"nodes": []map[string]interface{}{
					{"name": "extract", "scriptId": script.ID},
					{"name": "extract", "scriptId": script.ID},
				},
			},
		},
		{
			name: "edge to unknown node",
			payload: map[string]interface{}{
				"workspaceId": testWorkspace,
				"name":        "etl",
				"nodes":       []map[string]interface{}{{"name": "extract", "scriptId": script.ID}},
				"edges":       []map[string]string{{"from": "extract", "to": "ghost"}},
			},
		},
		{
			name: "cyclic graph",
			payload: map[string]interface{}{
				"workspaceId": testWorkspace,
				"name":        "etl",
				"nodes": []map[string]interface{}{
					{"name": "a", "scriptId": script.ID},
					{"name": "b", "scriptId": script.ID},
				},
				"edges": []map[string]string{{"from": "a", "to": "b"}, {"from": "b", "to": "a"}},
			},
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.server.POST("/api/v1/workflows", tc.payload).
				ExpectBadRequest().
				ExpectError(string(errs.KindInvalidInput))
		})
	}
}

func (s *WorkflowAPISuite) TestWorkflowLifecycle() {
	script := s.registerScript("step")
	workflow := s.createWorkflow("etl", script.ID, []string{"extract"}, nil)

	var activated wfdto.WorkflowResponse
	s.server.POST("/api/v1/workflows/"+workflow.ID+"/activate", nil).
		ExpectOK().DecodeData(&activated)
	s.Equal("active", activated.Status)

	var archived wfdto.WorkflowResponse
	s.server.POST("/api/v1/workflows/"+workflow.ID+"/archive", nil).
		ExpectOK().DecodeData(&archived)
	s.Equal("archived", archived.Status)

	// Archived workflows stay archived.
	s.server.POST("/api/v1/workflows/"+workflow.ID+"/activate", nil).
		ExpectConflict().
		ExpectError(string(errs.KindBusinessRuleViolation))
}

func (s *WorkflowAPISuite) TestDeleteWorkflow() {
	script := s.registerScript("step")
	workflow := s.createWorkflow("etl", script.ID, []string{"extract"}, nil)

	s.server.DELETE("/api/v1/workflows/" + workflow.ID).ExpectNoContent()

	s.server.GET("/api/v1/workflows/" + workflow.ID).
		ExpectNotFound().
		ExpectError(string(errs.KindResourceNotFound))

	s.server.DELETE("/api/v1/workflows/" + workflow.ID).
		ExpectNotFound().
		ExpectError(string(errs.KindResourceNotFound))
}

func (s *WorkflowAPISuite) TestListWorkflowsFiltersByWorkspace() {
	script := s.registerScript("step")
	s.createWorkflow("pipeline-a", script.ID, []string{"extract"}, nil)
	s.createWorkflow("pipeline-b", script.ID, []string{"extract"}, nil)

	var other wfdto.WorkflowResponse
	s.server.POST("/api/v1/workflows", map[string]interface{}{
		"workspaceId": "WSP-other",
		"name":        "foreign",
	}).ExpectCreated().DecodeData(&other)

	var listed []wfdto.WorkflowResponse
	s.server.GET("/api/v1/workflows?workspace_id=" + testWorkspace).
		ExpectOK().DecodeData(&listed)
	s.Len(listed, 2)
	for _, workflow := range listed {
		s.Equal(testWorkspace, workflow.WorkspaceID)
	}

	s.server.GET("/api/v1/workflows").
		ExpectBadRequest().
		ExpectError(string(errs.KindInvalidInput))
}

func (s *WorkflowAPISuite) TestTriggerLifecycle() {
	script := s.registerScript("step")
	workflow := s.createWorkflow("etl", script.ID, []string{"extract"}, nil)

	var webhook wfdto.TriggerResponse
	s.server.POST("/api/v1/workflows/"+workflow.ID+"/triggers", map[string]interface{}{
		"workspaceId": testWorkspace,
		"type":        "webhook",
		"inputMapping": map[string]interface{}{
			"limit": map[string]interface{}{"type": "int", "required": true},
		},
	}).ExpectCreated().DecodeData(&webhook)
	s.True(webhook.Enabled)
	s.Equal(workflow.ID, webhook.WorkflowID)
	s.Contains(webhook.InputMapping, "limit")

	var cron wfdto.TriggerResponse
	s.server.POST("/api/v1/workflows/"+workflow.ID+"/triggers", map[string]interface{}{
		"workspaceId":    testWorkspace,
		"type":           "cron",
		"cronExpression": "*/5 * * * *",
	}).ExpectCreated().DecodeData(&cron)
	s.Equal("*/5 * * * *", cron.CronExpression)

	s.server.POST("/api/v1/workflows/"+workflow.ID+"/triggers", map[string]interface{}{
		"workspaceId":    testWorkspace,
		"type":           "cron",
		"cronExpression": "every five minutes",
	}).ExpectBadRequest().ExpectError(string(errs.KindInvalidInput))

	s.server.POST("/api/v1/workflows/WFL-ghost/triggers", map[string]interface{}{
		"workspaceId": testWorkspace,
		"type":        "webhook",
	}).ExpectNotFound().ExpectError(string(errs.KindResourceNotFound))

	var listed []wfdto.TriggerResponse
	s.server.GET("/api/v1/workflows/"+workflow.ID+"/triggers").
		ExpectOK().DecodeData(&listed)
	s.Len(listed, 2)

	var disabled wfdto.TriggerResponse
	s.server.POST("/api/v1/triggers/"+webhook.ID+"/disable", nil).
		ExpectOK().DecodeData(&disabled)
	s.False(disabled.Enabled)

	var enabled wfdto.TriggerResponse
	s.server.POST("/api/v1/triggers/"+webhook.ID+"/enable", nil).
		ExpectOK().DecodeData(&enabled)
	s.True(enabled.Enabled)

	var fetched wfdto.TriggerResponse
	s.server.GET("/api/v1/triggers/" + webhook.ID).ExpectOK().DecodeData(&fetched)
	s.Equal(webhook.ID, fetched.ID)
}

func (s *WorkflowAPISuite) TestScriptLibrary() {
	script := s.registerScript("extract")
	s.NotEmpty(script.ID)
	s.Equal("extract.py", script.FilePath)

	// Catalog rows must never point outside the scripts root.
	s.server.POST("/api/v1/scripts", map[string]interface{}{
		"name":     "evil",
		"filePath": "../secrets.py",
	}).ExpectBadRequest().ExpectError(string(errs.KindInvalidInput))

	var listed []wfdto.ScriptResponse
	s.server.GET("/api/v1/scripts").ExpectOK().DecodeData(&listed)
	s.Len(listed, 1)
	s.Equal(script.ID, listed[0].ID)

	var custom wfdto.ScriptResponse
	s.server.POST("/api/v1/workspaces/"+testWorkspace+"/scripts", map[string]interface{}{
		"name":     "enrich",
		"filePath": "enrich.py",
	}).ExpectCreated().DecodeData(&custom)
	s.Equal(testWorkspace, custom.WorkspaceID)

	var customListed []wfdto.ScriptResponse
	s.server.GET("/api/v1/workspaces/"+testWorkspace+"/scripts").
		ExpectOK().DecodeData(&customListed)
	s.Len(customListed, 1)
	s.Equal(custom.ID, customListed[0].ID)

	var foreign []wfdto.ScriptResponse
	s.server.GET("/api/v1/workspaces/WSP-other/scripts").
		ExpectOK().DecodeData(&foreign)
	s.Empty(foreign)
}

func TestWorkflowAPISuite(t *testing.T) {
	suite.Run(t, new(WorkflowAPISuite))
}
