package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflow-io/miniflow/internal/execution/app/handler"
	exeservice "github.com/miniflow-io/miniflow/internal/execution/app/service"
	exemodel "github.com/miniflow-io/miniflow/internal/execution/domain/model"
	exedomain "github.com/miniflow-io/miniflow/internal/execution/domain/service"
	"github.com/miniflow-io/miniflow/internal/execution/testutil"
	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/shared/events"
	wfmodel "github.com/miniflow-io/miniflow/internal/workflow/domain/model"
)

// engineRig runs the full execution loop in-process: the launcher
// seeds the ready queue, the input handler dispatches to a stub
// engine that synthesizes results, and the output handler applies
// them until the execution goes terminal. Only the worker fleet is
// stubbed; everything else is the production wiring.
type engineRig struct {
	stores   *testutil.MemoryStores
	cat      *testutil.Catalog
	eng      *testutil.StubEngine
	pub      *testutil.CapturePublisher
	launcher *exeservice.ExecutionService
}

func startEngineRig(t *testing.T) *engineRig {
	t.Helper()

	cfg := config.HandlerConfig{
		BatchSize:          10,
		WorkerThreads:      2,
		MaxRetries:         2,
		ContextTimeout:     time.Second,
		EngineTimeout:      time.Second,
		PollTimeout:        10 * time.Millisecond,
		MinPollingInterval: time.Millisecond,
		MaxPollingInterval: 5 * time.Millisecond,
		RetryDelay:         time.Millisecond,
		AdaptivePolling:    true,
		ParallelContext:    true,
	}

	rig := &engineRig{
		stores: testutil.NewMemoryStores(),
		cat:    testutil.NewCatalog(),
		eng:    testutil.NewStubEngine(),
		pub:    &testutil.CapturePublisher{},
	}

	log := logger.NewNop()
	rig.launcher = exeservice.NewExecutionService(
		rig.stores, rig.stores,
		rig.cat.Workflows(), rig.cat.Nodes(), rig.cat.Edges(), rig.cat.Triggers(),
		rig.cat.Scripts(), rig.cat.CustomScripts(),
		rig.pub, nil, log,
	)

	resolver := exedomain.NewResolver(rig.stores.Outputs(), nil, nil, nil, nil, nil)
	inputs := handler.NewInputHandler(cfg, rig.stores, resolver, rig.eng, nil, log, nil)
	outputs := handler.NewOutputHandler(cfg, rig.stores, rig.cat.Nodes(), rig.cat.Edges(), rig.eng, rig.pub, nil, log, nil)

	go inputs.Run(context.Background())
	go outputs.Run(context.Background())
	t.Cleanup(func() {
		inputs.Stop(time.Second)
		outputs.Stop(time.Second)
	})
	return rig
}

func (rig *engineRig) seedScript(t *testing.T, name string) *wfmodel.Script {
	t.Helper()
	script, err := wfmodel.NewScript(name, name+".py")
	require.NoError(t, err)
	require.NoError(t, rig.cat.Scripts().Create(context.Background(), script))
	return script
}

func (rig *engineRig) seedWorkflow(t *testing.T, name string) *wfmodel.Workflow {
	t.Helper()
	workflow, err := wfmodel.NewWorkflow("WSP-e2e", name, "")
	require.NoError(t, err)
	require.NoError(t, rig.cat.Workflows().Create(context.Background(), workflow))
	return workflow
}

func (rig *engineRig) seedNode(t *testing.T, workflow *wfmodel.Workflow, script *wfmodel.Script, name string, params map[string]wfmodel.ParamSpec) *wfmodel.Node {
	t.Helper()
	node, err := wfmodel.NewNode(workflow.ID, name, script.ID, "")
	require.NoError(t, err)
	for key, spec := range params {
		node.InputParams[key] = spec
	}
	require.NoError(t, rig.cat.Nodes().Create(context.Background(), node))
	return node
}

func (rig *engineRig) seedEdge(t *testing.T, workflow *wfmodel.Workflow, from, to *wfmodel.Node) {
	t.Helper()
	edge, err := wfmodel.NewEdge(workflow.ID, from.ID, to.ID)
	require.NoError(t, err)
	require.NoError(t, rig.cat.Edges().Create(context.Background(), edge))
}

func (rig *engineRig) start(t *testing.T, workflow *wfmodel.Workflow, input map[string]interface{}) exemodel.ExecutionID {
	t.Helper()
	result, err := rig.launcher.StartExecutionFromWorkflow(context.Background(), exeservice.StartFromWorkflowCommand{
		WorkspaceID: workflow.WorkspaceID,
		WorkflowID:  workflow.ID,
		InputData:   input,
		TriggeredBy: "e2e",
	})
	require.NoError(t, err)
	return result.Execution.ID()
}

func (rig *engineRig) awaitTerminal(t *testing.T, id exemodel.ExecutionID) *exemodel.Execution {
	t.Helper()
	require.Eventually(t, func() bool {
		execution, err := rig.stores.Executions().FindByID(context.Background(), id)
		return err == nil && execution.Terminal()
	}, 5*time.Second, 5*time.Millisecond, "execution %s never went terminal", id)

	execution, err := rig.stores.Executions().FindByID(context.Background(), id)
	require.NoError(t, err)
	return execution
}

func entryOf(t *testing.T, execution *exemodel.Execution, nodeID string) map[string]interface{} {
	t.Helper()
	raw, ok := execution.Results()[nodeID]
	require.True(t, ok, "no result entry for node %s", nodeID)
	entry, ok := raw.(map[string]interface{})
	require.True(t, ok)
	return entry
}

func TestE2E_LinearWorkflowRunsToCompletion(t *testing.T) {
	rig := startEngineRig(t)

	script := rig.seedScript(t, "etl")
	workflow := rig.seedWorkflow(t, "etl")
	extract := rig.seedNode(t, workflow, script, "extract", nil)
	transform := rig.seedNode(t, workflow, script, "transform", nil)
	load := rig.seedNode(t, workflow, script, "load", nil)
	rig.seedEdge(t, workflow, extract, transform)
	rig.seedEdge(t, workflow, transform, load)

	rig.eng.Succeed(extract.ID, map[string]interface{}{"rows": 10})

	id := rig.start(t, workflow, nil)
	final := rig.awaitTerminal(t, id)

	assert.Equal(t, exemodel.ExecutionStatusCompleted, final.Status())
	require.Len(t, final.Results(), 3)
	for node, name := range map[string]string{extract.ID: "extract", transform.ID: "transform", load.ID: "load"} {
		entry := entryOf(t, final, node)
		assert.Equal(t, "SUCCESS", entry["status"])
		assert.Equal(t, name, entry["node_name"])
	}

	// Dependency order is observable in the dispatch log.
	submitted := rig.eng.Submitted()
	require.Len(t, submitted, 3)
	assert.Equal(t, extract.ID, submitted[0].NodeID)
	assert.Equal(t, transform.ID, submitted[1].NodeID)
	assert.Equal(t, load.ID, submitted[2].NodeID)

	// Both working tables drain on finalization.
	assert.Zero(t, rig.stores.InputCount())
	outputs, err := rig.stores.Outputs().ListByExecutionID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, outputs)

	types := rig.pub.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, "execution.started", types[0])
	assert.Equal(t, "execution.completed", types[len(types)-1])
	assert.Len(t, rig.pub.OfType("execution.node.completed"), 3)
}

func TestE2E_FanOutJoinsExactlyOnce(t *testing.T) {
	rig := startEngineRig(t)

	script := rig.seedScript(t, "diamond")
	workflow := rig.seedWorkflow(t, "diamond")
	a := rig.seedNode(t, workflow, script, "split", nil)
	b := rig.seedNode(t, workflow, script, "left", nil)
	c := rig.seedNode(t, workflow, script, "right", nil)
	d := rig.seedNode(t, workflow, script, "join", nil)
	rig.seedEdge(t, workflow, a, b)
	rig.seedEdge(t, workflow, a, c)
	rig.seedEdge(t, workflow, b, d)
	rig.seedEdge(t, workflow, c, d)

	id := rig.start(t, workflow, nil)
	final := rig.awaitTerminal(t, id)

	assert.Equal(t, exemodel.ExecutionStatusCompleted, final.Status())
	assert.Len(t, final.Results(), 4)

	// The join waits for both branches and dispatches exactly once.
	assert.Len(t, rig.eng.SubmittedFor(d.ID), 1)

	submitted := rig.eng.Submitted()
	require.Len(t, submitted, 4)
	assert.Equal(t, a.ID, submitted[0].NodeID)
	assert.Equal(t, d.ID, submitted[3].NodeID)
	assert.ElementsMatch(t,
		[]string{b.ID, c.ID},
		[]string{submitted[1].NodeID, submitted[2].NodeID},
	)
}

func TestE2E_NodeFailureCascades(t *testing.T) {
	rig := startEngineRig(t)

	script := rig.seedScript(t, "pipeline")
	workflow := rig.seedWorkflow(t, "pipeline")
	a := rig.seedNode(t, workflow, script, "fetch", nil)
	b := rig.seedNode(t, workflow, script, "parse", nil)
	c := rig.seedNode(t, workflow, script, "store", nil)
	rig.seedEdge(t, workflow, a, b)
	rig.seedEdge(t, workflow, b, c)

	rig.eng.FailNode(b.ID, "script exited 1")

	id := rig.start(t, workflow, nil)
	final := rig.awaitTerminal(t, id)

	assert.Equal(t, exemodel.ExecutionStatusFailed, final.Status())
	require.Len(t, final.Results(), 3)
	assert.Equal(t, "SUCCESS", entryOf(t, final, a.ID)["status"])

	failed := entryOf(t, final, b.ID)
	assert.Equal(t, "FAILED", failed["status"])
	assert.Equal(t, "script exited 1", failed["error_message"])

	// The queued downstream node is cancelled without ever dispatching.
	cancelled := entryOf(t, final, c.ID)
	assert.Equal(t, "CANCELLED", cancelled["status"])
	assert.Contains(t, cancelled["error_message"], b.ID)
	assert.Empty(t, rig.eng.SubmittedFor(c.ID))

	failedEvents := rig.pub.OfType("execution.failed")
	require.Len(t, failedEvents, 1)
	var payload events.ExecutionFailed
	require.NoError(t, json.Unmarshal(failedEvents[0].Payload, &payload))
	assert.Equal(t, b.ID, payload.FailedNode)
	assert.Equal(t, "script exited 1", payload.Error)

	assert.Zero(t, rig.stores.InputCount())
	outputs, err := rig.stores.Outputs().ListByExecutionID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestE2E_ReferencesFlowBetweenNodes(t *testing.T) {
	rig := startEngineRig(t)

	script := rig.seedScript(t, "chain")
	workflow := rig.seedWorkflow(t, "chain")
	a := rig.seedNode(t, workflow, script, "login", nil)
	b := rig.seedNode(t, workflow, script, "download", map[string]wfmodel.ParamSpec{
		"url":   {Type: "string", Value: "${node:" + a.ID + ".token}"},
		"limit": {Type: "integer", Value: "${trigger:limit}"},
		"mode":  {Type: "string", Value: "${static:dry-run}"},
	})
	rig.seedEdge(t, workflow, a, b)

	rig.eng.Succeed(a.ID, map[string]interface{}{"token": "t-123"})

	id := rig.start(t, workflow, map[string]interface{}{"limit": "25"})
	final := rig.awaitTerminal(t, id)
	require.Equal(t, exemodel.ExecutionStatusCompleted, final.Status())

	tasks := rig.eng.SubmittedFor(b.ID)
	require.Len(t, tasks, 1)
	params := tasks[0].Params
	assert.Equal(t, "t-123", params["url"], "node reference reads the upstream output")
	assert.Equal(t, int64(25), params["limit"], "trigger reference is coerced to the declared type")
	assert.Equal(t, "dry-run", params["mode"])
}

func TestE2E_ConcurrentExecutionsStayIsolated(t *testing.T) {
	rig := startEngineRig(t)

	script := rig.seedScript(t, "sync")
	workflow := rig.seedWorkflow(t, "sync")
	a := rig.seedNode(t, workflow, script, "pull", nil)
	b := rig.seedNode(t, workflow, script, "push", nil)
	rig.seedEdge(t, workflow, a, b)

	ids := make([]exemodel.ExecutionID, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, rig.start(t, workflow, map[string]interface{}{"run": fmt.Sprintf("r-%d", i)}))
	}

	for _, id := range ids {
		final := rig.awaitTerminal(t, id)
		assert.Equal(t, exemodel.ExecutionStatusCompleted, final.Status())
		assert.Len(t, final.Results(), 2)
	}

	assert.Len(t, rig.eng.SubmittedFor(a.ID), 5)
	assert.Len(t, rig.eng.SubmittedFor(b.ID), 5)
	assert.Len(t, rig.pub.OfType("execution.completed"), 5)
}
