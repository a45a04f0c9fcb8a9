package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflow-io/miniflow/internal/engine"
	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/testutil"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
	"github.com/miniflow-io/miniflow/internal/shared/events"
	wfmodel "github.com/miniflow-io/miniflow/internal/workflow/domain/model"
)

type outputFixture struct {
	handler *OutputHandler
	stores  *testutil.MemoryStores
	cat     *testutil.Catalog
	eng     *testutil.StubEngine
	pub     *testutil.CapturePublisher
}

func newOutputFixture() *outputFixture {
	stores := testutil.NewMemoryStores()
	cat := testutil.NewCatalog()
	eng := testutil.NewStubEngine()
	pub := &testutil.CapturePublisher{}
	h := NewOutputHandler(handlerTestConfig(), stores, cat.Nodes(), cat.Edges(), eng, pub, nil, logger.NewNop(), nil)
	return &outputFixture{handler: h, stores: stores, cat: cat, eng: eng, pub: pub}
}

func (f *outputFixture) seedGraphNode(t *testing.T, workflowID, name string) *wfmodel.Node {
	t.Helper()
	node, err := wfmodel.NewNode(workflowID, name, "SCR-1", "")
	require.NoError(t, err)
	require.NoError(t, f.cat.Nodes().Create(context.Background(), node))
	return node
}

func (f *outputFixture) seedGraphEdge(t *testing.T, workflowID string, from, to *wfmodel.Node) {
	t.Helper()
	edge, err := wfmodel.NewEdge(workflowID, from.ID, to.ID)
	require.NoError(t, err)
	require.NoError(t, f.cat.Edges().Create(context.Background(), edge))
}

func (f *outputFixture) seedRunningExecution(t *testing.T, workflowID string) *model.Execution {
	t.Helper()
	execution, err := model.NewExecution("WSP-1", workflowID, "", "test", nil)
	require.NoError(t, err)
	require.NoError(t, execution.Start())
	require.NoError(t, f.stores.Executions().Create(context.Background(), execution))
	return execution
}

func (f *outputFixture) seedQueueRow(t *testing.T, execution *model.Execution, node *wfmodel.Node, deps int) *model.ExecutionInput {
	t.Helper()
	input, err := model.NewExecutionInput(
		execution.ID(), execution.WorkspaceID(), execution.WorkflowID(),
		node.ID, node.Name, "global_scripts/"+node.Name+".py",
	)
	require.NoError(t, err)
	input.DependencyCount = deps
	require.NoError(t, f.stores.Inputs().CreateBatch(context.Background(), []*model.ExecutionInput{input}))
	return input
}

func successResult(execution *model.Execution, nodeID string, data map[string]interface{}) engine.ResultPayload {
	started := time.Now().Add(-100 * time.Millisecond)
	ended := time.Now()
	return engine.ResultPayload{
		ExecutionID: execution.ID().String(),
		NodeID:      nodeID,
		Status:      engine.ResultStatusSuccess,
		ResultData:  data,
		StartedAt:   &started,
		EndedAt:     &ended,
	}
}

func failedResult(execution *model.Execution, nodeID, message string) engine.ResultPayload {
	started := time.Now().Add(-100 * time.Millisecond)
	ended := time.Now()
	return engine.ResultPayload{
		ExecutionID:  execution.ID().String(),
		NodeID:       nodeID,
		Status:       engine.ResultStatusFailed,
		StartedAt:    &started,
		EndedAt:      &ended,
		ErrorMessage: message,
	}
}

func TestSuccessUnlocksDownstreamRows(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	a := f.seedGraphNode(t, "WFL-1", "extract")
	b := f.seedGraphNode(t, "WFL-1", "transform")
	f.seedGraphEdge(t, "WFL-1", a, b)

	execution := f.seedRunningExecution(t, "WFL-1")
	f.seedQueueRow(t, execution, b, 1)

	f.eng.PushResults(successResult(execution, a.ID, map[string]interface{}{"rows": 42}))
	processed, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	rows, err := f.stores.Inputs().ListByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, rows[0].DependencyCount)

	output, err := f.stores.Outputs().FindByExecutionAndNode(ctx, execution.ID(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "extract", output.NodeName)
	assert.Equal(t, model.OutputStatusSuccess, output.Status)
	assert.InDelta(t, 0.1, output.Duration, 0.05)

	still, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusRunning, still.Status())

	assert.Equal(t, []string{"execution.node.completed"}, f.pub.Types())
}

func TestTerminalSuccessFinalizesExecution(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	a := f.seedGraphNode(t, "WFL-1", "extract")
	b := f.seedGraphNode(t, "WFL-1", "load")
	f.seedGraphEdge(t, "WFL-1", a, b)

	execution := f.seedRunningExecution(t, "WFL-1")

	// The upstream node already finished in an earlier batch.
	prior := model.NewExecutionOutput(execution.ID(), a.ID, a.Name, model.OutputStatusSuccess)
	prior.ResultData = map[string]interface{}{"rows": 42}
	require.NoError(t, f.stores.Outputs().Create(ctx, prior))

	f.eng.PushResults(successResult(execution, b.ID, map[string]interface{}{"written": true}))
	processed, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	final, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, final.Status())
	require.NotNil(t, final.EndedAt())

	results := final.Results()
	require.Contains(t, results, a.ID)
	require.Contains(t, results, b.ID)
	bEntry := results[b.ID].(map[string]interface{})
	assert.Equal(t, "SUCCESS", bEntry["status"])
	assert.Equal(t, map[string]interface{}{"written": true}, bEntry["result_data"])

	count, err := f.stores.Outputs().CountByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.Equal(t, []string{"execution.node.completed", "execution.completed"}, f.pub.Types())
}

func TestFailureCascadesToQueuedRows(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	a := f.seedGraphNode(t, "WFL-1", "extract")
	b := f.seedGraphNode(t, "WFL-1", "transform")
	c := f.seedGraphNode(t, "WFL-1", "load")
	f.seedGraphEdge(t, "WFL-1", a, b)
	f.seedGraphEdge(t, "WFL-1", b, c)

	execution := f.seedRunningExecution(t, "WFL-1")
	f.seedQueueRow(t, execution, b, 1)
	f.seedQueueRow(t, execution, c, 1)

	f.eng.PushResults(failedResult(execution, a.ID, "script exited 1"))
	processed, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	final, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusFailed, final.Status())

	results := final.Results()
	require.Len(t, results, 3)

	aEntry := results[a.ID].(map[string]interface{})
	assert.Equal(t, "FAILED", aEntry["status"])
	assert.Equal(t, "script exited 1", aEntry["error_message"])

	for _, skipped := range []string{b.ID, c.ID} {
		entry := results[skipped].(map[string]interface{})
		assert.Equal(t, "CANCELLED", entry["status"])
		assert.Contains(t, entry["error_message"], a.ID)
	}

	assert.Equal(t, 0, f.stores.InputCount())
	outputs, err := f.stores.Outputs().CountByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Zero(t, outputs)

	require.Equal(t, []string{"execution.node.completed", "execution.failed"}, f.pub.Types())
	var payload events.ExecutionFailed
	require.NoError(t, json.Unmarshal(f.pub.OfType("execution.failed")[0].Payload, &payload))
	assert.Equal(t, a.ID, payload.FailedNode)
	assert.Equal(t, "script exited 1", payload.Error)
}

func TestCancelledEntriesWinOverStaleOutputs(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	a := f.seedGraphNode(t, "WFL-1", "extract")
	b := f.seedGraphNode(t, "WFL-1", "retryable")
	f.seedGraphEdge(t, "WFL-1", a, b)

	execution := f.seedRunningExecution(t, "WFL-1")

	// A stale output for b exists alongside its still-queued row. The
	// synthesized cancellation must win the results key.
	stale := model.NewExecutionOutput(execution.ID(), b.ID, b.Name, model.OutputStatusSuccess)
	require.NoError(t, f.stores.Outputs().Create(ctx, stale))
	f.seedQueueRow(t, execution, b, 1)

	f.eng.PushResults(failedResult(execution, a.ID, "boom"))
	_, err := f.handler.tick(ctx)
	require.NoError(t, err)

	final, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	require.Equal(t, model.ExecutionStatusFailed, final.Status())

	entry := final.Results()[b.ID].(map[string]interface{})
	assert.Equal(t, "CANCELLED", entry["status"])
}

func TestRedeliveredResultDropped(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	execution, err := model.NewExecution("WSP-1", "WFL-1", "", "test", nil)
	require.NoError(t, err)
	require.NoError(t, execution.Complete(map[string]interface{}{"NOD-a": map[string]interface{}{"status": "SUCCESS"}}))
	require.NoError(t, f.stores.Executions().Create(ctx, execution))

	f.eng.PushResults(successResult(execution, "NOD-a", nil))
	processed, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	count, err := f.stores.Outputs().CountByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.pub.Events())

	unchanged, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, unchanged.Status())
}

func TestResultRetriesTransientFailures(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	node := f.seedGraphNode(t, "WFL-1", "only")
	execution := f.seedRunningExecution(t, "WFL-1")

	f.stores.TxErrs = []error{errs.ResultProcessing(errors.New("connection reset"), "applying result")}

	f.eng.PushResults(successResult(execution, node.ID, nil))
	_, err := f.handler.tick(ctx)
	require.NoError(t, err)

	final, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, final.Status())
}

func TestInvalidResultsDropped(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	execution := f.seedRunningExecution(t, "WFL-1")

	f.eng.PushResults(
		engine.ResultPayload{ExecutionID: "", NodeID: "NOD-a", Status: engine.ResultStatusSuccess},
		engine.ResultPayload{ExecutionID: execution.ID().String(), NodeID: "NOD-a", Status: "SOMETIMES"},
	)
	processed, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	count, err := f.stores.Outputs().CountByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.pub.Events())
}

func TestResultForUnknownExecutionDropped(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	f.eng.PushResults(engine.ResultPayload{
		ExecutionID: model.NewExecutionID().String(),
		NodeID:      "NOD-ghost",
		Status:      engine.ResultStatusSuccess,
	})
	processed, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Empty(t, f.pub.Events())
}

func TestResultsLandOnTheirOwnExecutions(t *testing.T) {
	f := newOutputFixture()
	ctx := context.Background()

	nodeX := f.seedGraphNode(t, "WFL-1", "solo-x")
	nodeY := f.seedGraphNode(t, "WFL-2", "solo-y")

	first := f.seedRunningExecution(t, "WFL-1")
	second := f.seedRunningExecution(t, "WFL-2")

	f.eng.PushResults(
		successResult(first, nodeX.ID, map[string]interface{}{"which": "x"}),
		successResult(second, nodeY.ID, map[string]interface{}{"which": "y"}),
	)
	processed, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	firstFinal, err := f.stores.Executions().FindByID(ctx, first.ID())
	require.NoError(t, err)
	require.Equal(t, model.ExecutionStatusCompleted, firstFinal.Status())
	require.Contains(t, firstFinal.Results(), nodeX.ID)
	assert.NotContains(t, firstFinal.Results(), nodeY.ID)

	secondFinal, err := f.stores.Executions().FindByID(ctx, second.ID())
	require.NoError(t, err)
	require.Equal(t, model.ExecutionStatusCompleted, secondFinal.Status())
	require.Contains(t, secondFinal.Results(), nodeY.ID)
	assert.NotContains(t, secondFinal.Results(), nodeX.ID)

	assert.Len(t, f.pub.OfType("execution.node.completed"), 2)
	assert.Len(t, f.pub.OfType("execution.completed"), 2)
}

func TestOutputHandlerRunStops(t *testing.T) {
	f := newOutputFixture()

	done := make(chan struct{})
	go func() {
		f.handler.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	f.handler.Stop(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("output handler did not stop")
	}
}
