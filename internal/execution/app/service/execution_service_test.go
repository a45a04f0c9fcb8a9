package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/testutil"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
	wfmodel "github.com/miniflow-io/miniflow/internal/workflow/domain/model"
)

type serviceFixture struct {
	svc    *ExecutionService
	stores *testutil.MemoryStores
	cat    *testutil.Catalog
	pub    *testutil.CapturePublisher
}

func newServiceFixture() *serviceFixture {
	stores := testutil.NewMemoryStores()
	cat := testutil.NewCatalog()
	pub := &testutil.CapturePublisher{}
	svc := NewExecutionService(
		stores, stores,
		cat.Workflows(), cat.Nodes(), cat.Edges(), cat.Triggers(),
		cat.Scripts(), cat.CustomScripts(),
		pub, nil, logger.NewNop(),
	)
	return &serviceFixture{svc: svc, stores: stores, cat: cat, pub: pub}
}

func (f *serviceFixture) seedWorkflow(t *testing.T, workspaceID string) *wfmodel.Workflow {
	t.Helper()
	wf, err := wfmodel.NewWorkflow(workspaceID, "nightly etl", "")
	require.NoError(t, err)
	require.NoError(t, wf.Activate())
	require.NoError(t, f.cat.Workflows().Create(context.Background(), wf))
	return wf
}

func (f *serviceFixture) seedScript(t *testing.T, name string) *wfmodel.Script {
	t.Helper()
	script, err := wfmodel.NewScript(name, name+".py")
	require.NoError(t, err)
	require.NoError(t, f.cat.Scripts().Create(context.Background(), script))
	return script
}

func (f *serviceFixture) seedNode(t *testing.T, wf *wfmodel.Workflow, name, scriptID, customScriptID string) *wfmodel.Node {
	t.Helper()
	node, err := wfmodel.NewNode(wf.ID, name, scriptID, customScriptID)
	require.NoError(t, err)
	require.NoError(t, f.cat.Nodes().Create(context.Background(), node))
	return node
}

func (f *serviceFixture) seedEdge(t *testing.T, wf *wfmodel.Workflow, from, to *wfmodel.Node) {
	t.Helper()
	edge, err := wfmodel.NewEdge(wf.ID, from.ID, to.ID)
	require.NoError(t, err)
	require.NoError(t, f.cat.Edges().Create(context.Background(), edge))
}

func (f *serviceFixture) seedTrigger(t *testing.T, wf *wfmodel.Workflow) *wfmodel.Trigger {
	t.Helper()
	trigger, err := wfmodel.NewTrigger(wf.ID, wf.WorkspaceID, wfmodel.TriggerTypeManual)
	require.NoError(t, err)
	require.NoError(t, f.cat.Triggers().Create(context.Background(), trigger))
	return trigger
}

func TestStartExecutionQueuesEveryNode(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	script := f.seedScript(t, "extract")
	a := f.seedNode(t, wf, "extract", script.ID, "")
	b := f.seedNode(t, wf, "transform", script.ID, "")
	c := f.seedNode(t, wf, "load", script.ID, "")
	f.seedEdge(t, wf, a, b)
	f.seedEdge(t, wf, b, c)
	trigger := f.seedTrigger(t, wf)

	result, err := f.svc.StartExecution(ctx, StartExecutionCommand{
		TriggerID:   trigger.ID,
		InputData:   map[string]interface{}{"source": "s3://bucket"},
		TriggeredBy: "USR-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.InputCount)
	assert.Equal(t, model.ExecutionStatusPending, result.Execution.Status())
	assert.Equal(t, "s3://bucket", result.Execution.TriggerData()["source"])

	inputs, err := f.stores.Inputs().ListByExecutionID(ctx, result.Execution.ID())
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	deps := make(map[string]int, 3)
	for _, in := range inputs {
		deps[in.NodeID] = in.DependencyCount
		assert.Equal(t, "global_scripts/extract.py", in.ScriptPath)
		assert.Equal(t, wf.ID, in.WorkflowID)
		assert.Equal(t, "WSP-1", in.WorkspaceID)
	}
	assert.Equal(t, 0, deps[a.ID])
	assert.Equal(t, 1, deps[b.ID])
	assert.Equal(t, 1, deps[c.ID])

	assert.Equal(t, []string{"execution.started"}, f.pub.Types())
}

func TestStartExecutionSnapshotsParams(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	script := f.seedScript(t, "fetch")
	node, err := wfmodel.NewNode(wf.ID, "fetch", script.ID, "")
	require.NoError(t, err)
	node.InputParams["url"] = wfmodel.ParamSpec{Type: "string", Value: "${trigger:endpoint}", Required: true}
	node.InputParams["limit"] = wfmodel.ParamSpec{Type: "integer", DefaultValue: 10}
	node.Priority = 7
	node.MaxRetries = 5
	node.TimeoutSeconds = 90
	require.NoError(t, f.cat.Nodes().Create(ctx, node))
	trigger := f.seedTrigger(t, wf)

	result, err := f.svc.StartExecution(ctx, StartExecutionCommand{
		TriggerID: trigger.ID,
		InputData: map[string]interface{}{"endpoint": "https://example.test"},
	})
	require.NoError(t, err)

	inputs, err := f.stores.Inputs().ListByExecutionID(ctx, result.Execution.ID())
	require.NoError(t, err)
	require.Len(t, inputs, 1)

	in := inputs[0]
	// References stay raw in the snapshot; resolution happens at dispatch.
	assert.Equal(t, "${trigger:endpoint}", in.Params["url"].Value)
	assert.Equal(t, 10, in.Params["limit"].DefaultValue)
	assert.Equal(t, 7, in.Priority)
	assert.Equal(t, 5, in.MaxRetries)
	assert.Equal(t, 90, in.TimeoutSeconds)
}

func TestStartExecutionRejectsBadTriggers(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.StartExecution(ctx, StartExecutionCommand{})
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))

	_, err = f.svc.StartExecution(ctx, StartExecutionCommand{TriggerID: "TRG-missing"})
	assert.True(t, errs.IsKind(err, errs.KindResourceNotFound))

	wf := f.seedWorkflow(t, "WSP-1")
	trigger := f.seedTrigger(t, wf)
	trigger.Enabled = false
	require.NoError(t, f.cat.Triggers().Update(ctx, trigger))

	_, err = f.svc.StartExecution(ctx, StartExecutionCommand{TriggerID: trigger.ID})
	assert.True(t, errs.IsKind(err, errs.KindBusinessRuleViolation))
}

func TestStartExecutionValidatesTriggerInput(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	trigger, err := wfmodel.NewTrigger(wf.ID, wf.WorkspaceID, wfmodel.TriggerTypeWebhook)
	require.NoError(t, err)
	trigger.InputMapping["account"] = wfmodel.MappingSpec{Type: "str", Required: true}
	trigger.InputMapping["batch"] = wfmodel.MappingSpec{Type: "int", Value: 25}
	require.NoError(t, f.cat.Triggers().Create(ctx, trigger))

	_, err = f.svc.StartExecution(ctx, StartExecutionCommand{
		TriggerID: trigger.ID,
		InputData: map[string]interface{}{},
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))

	result, err := f.svc.StartExecution(ctx, StartExecutionCommand{
		TriggerID: trigger.ID,
		InputData: map[string]interface{}{"account": "acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", result.Execution.TriggerData()["account"])
	assert.Equal(t, 25, result.Execution.TriggerData()["batch"])
}

func TestStartExecutionWorkspaceMismatchReadsAsNotFound(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-other")
	trigger, err := wfmodel.NewTrigger(wf.ID, "WSP-mine", wfmodel.TriggerTypeManual)
	require.NoError(t, err)
	require.NoError(t, f.cat.Triggers().Create(ctx, trigger))

	_, err = f.svc.StartExecution(ctx, StartExecutionCommand{TriggerID: trigger.ID})
	assert.True(t, errs.IsKind(err, errs.KindResourceNotFound))

	_, err = f.svc.StartExecutionFromWorkflow(ctx, StartFromWorkflowCommand{
		WorkspaceID: "WSP-mine",
		WorkflowID:  wf.ID,
	})
	assert.True(t, errs.IsKind(err, errs.KindResourceNotFound))
}

func TestStartExecutionArchivedWorkflowRejected(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	wf.Archive()
	require.NoError(t, f.cat.Workflows().Update(ctx, wf))
	trigger := f.seedTrigger(t, wf)

	_, err := f.svc.StartExecution(ctx, StartExecutionCommand{TriggerID: trigger.ID})
	assert.True(t, errs.IsKind(err, errs.KindBusinessRuleViolation))
}

func TestStartExecutionEmptyWorkflowBornCompleted(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	trigger := f.seedTrigger(t, wf)

	result, err := f.svc.StartExecution(ctx, StartExecutionCommand{TriggerID: trigger.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, result.InputCount)
	assert.Equal(t, model.ExecutionStatusCompleted, result.Execution.Status())
	assert.NotNil(t, result.Execution.EndedAt())

	stored, err := f.svc.GetExecution(ctx, result.Execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, stored.Status())
	assert.Empty(t, stored.Results())
	assert.Equal(t, 0, f.stores.InputCount())

	assert.Equal(t, []string{"execution.started", "execution.completed"}, f.pub.Types())
}

func TestStartExecutionCrossWorkspaceCustomScriptReadsAsMissing(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	foreign, err := wfmodel.NewCustomScript("WSP-2", "leaked", "leaked.py")
	require.NoError(t, err)
	require.NoError(t, f.cat.CustomScripts().Create(ctx, foreign))
	f.seedNode(t, wf, "run leaked", "", foreign.ID)
	trigger := f.seedTrigger(t, wf)

	_, err = f.svc.StartExecution(ctx, StartExecutionCommand{TriggerID: trigger.ID})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindResourceNotFound))

	// Nothing may be persisted when the launch fails.
	assert.Equal(t, 0, f.stores.InputCount())
	assert.Empty(t, f.pub.Events())
}

func TestStartExecutionFromWorkflowUsesManualTrigger(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	script := f.seedScript(t, "solo")
	f.seedNode(t, wf, "solo", script.ID, "")

	result, err := f.svc.StartExecutionFromWorkflow(ctx, StartFromWorkflowCommand{
		WorkspaceID: "WSP-1",
		WorkflowID:  wf.ID,
		TriggeredBy: "USR-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "", result.Execution.TriggerID())
	assert.Equal(t, "USR-9", result.Execution.TriggeredBy())

	started := f.pub.OfType("execution.started")
	require.Len(t, started, 1)
}

func TestStartExecutionSurvivesPublisherFailure(t *testing.T) {
	f := newServiceFixture()
	f.pub.Err = errors.New("broker unreachable")
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	script := f.seedScript(t, "step")
	f.seedNode(t, wf, "step", script.ID, "")
	trigger := f.seedTrigger(t, wf)

	result, err := f.svc.StartExecution(ctx, StartExecutionCommand{TriggerID: trigger.ID})
	require.NoError(t, err)

	stored, err := f.svc.GetExecution(ctx, result.Execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusPending, stored.Status())
}

func TestEndExecutionCancelsQueuedWork(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	wf := f.seedWorkflow(t, "WSP-1")
	script := f.seedScript(t, "step")
	a := f.seedNode(t, wf, "first", script.ID, "")
	b := f.seedNode(t, wf, "second", script.ID, "")
	f.seedEdge(t, wf, a, b)
	trigger := f.seedTrigger(t, wf)

	result, err := f.svc.StartExecution(ctx, StartExecutionCommand{TriggerID: trigger.ID})
	require.NoError(t, err)
	id := result.Execution.ID()

	// One node already produced a result before the cancel arrives.
	done := model.NewExecutionOutput(id, a.ID, "first", model.OutputStatusSuccess)
	done.ResultData = map[string]interface{}{"rows": 42}
	require.NoError(t, f.stores.Outputs().Create(ctx, done))
	require.NoError(t, f.stores.Inputs().DeleteByIDs(ctx, []string{inputIDOf(t, f, id, a.ID)}))

	cancelled, err := f.svc.EndExecution(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCancelled, cancelled.Status())

	results := cancelled.Results()
	require.Contains(t, results, a.ID)
	require.Contains(t, results, b.ID)

	aEntry := results[a.ID].(map[string]interface{})
	assert.Equal(t, "SUCCESS", aEntry["status"])
	bEntry := results[b.ID].(map[string]interface{})
	assert.Equal(t, "CANCELLED", bEntry["status"])
	assert.Equal(t, "Cancelled by user request", bEntry["error_message"])

	assert.Equal(t, 0, f.stores.InputCount())
	remaining, err := f.stores.Outputs().CountByExecutionID(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	cancelledEvents := f.pub.OfType("execution.cancelled")
	assert.Len(t, cancelledEvents, 1)

	_, err = f.svc.EndExecution(ctx, id, "")
	assert.True(t, errs.IsKind(err, errs.KindBusinessRuleViolation))
}

func TestEndExecutionUnknownID(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.EndExecution(context.Background(), model.NewExecutionID(), "")
	assert.True(t, errs.IsKind(err, errs.KindResourceNotFound))
}

func inputIDOf(t *testing.T, f *serviceFixture, executionID model.ExecutionID, nodeID string) string {
	t.Helper()
	inputs, err := f.stores.Inputs().ListByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	for _, in := range inputs {
		if in.NodeID == nodeID {
			return in.ID
		}
	}
	t.Fatalf("no queue row for node %s", nodeID)
	return ""
}

func TestListByWorkspacePaginatesNewestFirst(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		started := base.Add(time.Duration(i) * time.Minute)
		status := model.ExecutionStatusCompleted
		if i%2 == 0 {
			status = model.ExecutionStatusFailed
		}
		e := model.ReconstructExecution(
			model.NewExecutionID(), "WSP-1", "WFL-1", "", "test",
			status, nil, nil, &started, &started, started, started,
		)
		require.NoError(t, f.stores.Executions().Create(ctx, e))
	}

	page1, total, err := f.svc.ListByWorkspaceAndStatus(ctx, "WSP-1", "", ListPage{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, page1, 2)
	assert.True(t, page1[0].StartedAt().After(*page1[1].StartedAt()))

	page3, _, err := f.svc.ListByWorkspaceAndStatus(ctx, "WSP-1", "", ListPage{Page: 3, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, page3, 1)

	failed, total, err := f.svc.ListByWorkspaceAndStatus(ctx, "WSP-1", model.ExecutionStatusFailed, ListPage{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, failed, 3)

	_, _, err = f.svc.ListByWorkspaceAndStatus(ctx, "", "", ListPage{})
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))

	_, _, err = f.svc.ListByWorkspaceAndStatus(ctx, "WSP-1", "SOMETIMES", ListPage{})
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}

func TestListPageNormalization(t *testing.T) {
	assert.Equal(t, ListPage{Page: 1, PerPage: 20}, ListPage{}.Normalized())
	assert.Equal(t, ListPage{Page: 1, PerPage: 20}, ListPage{Page: -3}.Normalized())
	assert.Equal(t, ListPage{Page: 4, PerPage: 100}, ListPage{Page: 4, PerPage: 500}.Normalized())
	assert.Equal(t, ListPage{Page: 2, PerPage: 15}, ListPage{Page: 2, PerPage: 15}.Normalized())
}
