package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/domain/service"
	"github.com/miniflow-io/miniflow/internal/execution/testutil"
	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
)

func handlerTestConfig() config.HandlerConfig {
	return config.HandlerConfig{
		BatchSize:          10,
		WorkerThreads:      2,
		MaxRetries:         2,
		ContextTimeout:     time.Second,
		EngineTimeout:      time.Second,
		PollTimeout:        10 * time.Millisecond,
		MinPollingInterval: time.Millisecond,
		MaxPollingInterval: 5 * time.Millisecond,
		RetryDelay:         time.Millisecond,
		AdaptivePolling:    false,
		ParallelContext:    false,
	}
}

type inputFixture struct {
	handler *InputHandler
	stores  *testutil.MemoryStores
	eng     *testutil.StubEngine
}

func newInputFixture(cfg config.HandlerConfig) *inputFixture {
	stores := testutil.NewMemoryStores()
	eng := testutil.NewStubEngine()
	resolver := service.NewResolver(stores.Outputs(), nil, nil, nil, nil, nil)
	h := NewInputHandler(cfg, stores, resolver, eng, nil, logger.NewNop(), nil)
	return &inputFixture{handler: h, stores: stores, eng: eng}
}

func seedExecution(t *testing.T, stores *testutil.MemoryStores, triggerData map[string]interface{}) *model.Execution {
	t.Helper()
	execution, err := model.NewExecution("WSP-1", "WFL-1", "", "test", triggerData)
	require.NoError(t, err)
	require.NoError(t, stores.Executions().Create(context.Background(), execution))
	return execution
}

func seedQueueRow(t *testing.T, stores *testutil.MemoryStores, execution *model.Execution, nodeName string, deps, priority int) *model.ExecutionInput {
	t.Helper()
	input, err := model.NewExecutionInput(
		execution.ID(), execution.WorkspaceID(), execution.WorkflowID(),
		"NOD-"+nodeName, nodeName, "global_scripts/"+nodeName+".py",
	)
	require.NoError(t, err)
	input.DependencyCount = deps
	input.Priority = priority
	require.NoError(t, stores.Inputs().CreateBatch(context.Background(), []*model.ExecutionInput{input}))
	return input
}

func TestTickDispatchesOnlyReadyRows(t *testing.T) {
	f := newInputFixture(handlerTestConfig())
	ctx := context.Background()

	execution := seedExecution(t, f.stores, nil)
	ready1 := seedQueueRow(t, f.stores, execution, "extract", 0, 0)
	ready2 := seedQueueRow(t, f.stores, execution, "fetch", 0, 0)
	blocked := seedQueueRow(t, f.stores, execution, "join", 2, 0)

	dispatched, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dispatched)

	tasks := f.eng.Submitted()
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, execution.ID().String(), task.ExecutionID)
		assert.Equal(t, "WFL-1", task.WorkflowID)
		assert.Equal(t, "WSP-1", task.WorkspaceID)
		assert.Equal(t, "iob", task.ProcessType)
	}

	remaining, err := f.stores.Inputs().ListByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, blocked.ID, remaining[0].ID)
	assert.NotEqual(t, ready1.ID, remaining[0].ID)
	assert.NotEqual(t, ready2.ID, remaining[0].ID)

	updated, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusRunning, updated.Status())
}

func TestTickResolvesParamsBeforeDispatch(t *testing.T) {
	f := newInputFixture(handlerTestConfig())
	ctx := context.Background()

	execution := seedExecution(t, f.stores, map[string]interface{}{"flag": "yes"})
	input, err := model.NewExecutionInput(
		execution.ID(), execution.WorkspaceID(), execution.WorkflowID(),
		"NOD-render", "render", "global_scripts/render.py",
	)
	require.NoError(t, err)
	input.Params["greeting"] = model.InputParam{Type: "string", Value: "hello"}
	input.Params["count"] = model.InputParam{Type: "integer", Value: "5"}
	input.Params["enabled"] = model.InputParam{Type: "boolean", Value: "${trigger:flag}"}
	require.NoError(t, f.stores.Inputs().CreateBatch(ctx, []*model.ExecutionInput{input}))

	dispatched, err := f.handler.tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, dispatched)

	tasks := f.eng.Submitted()
	require.Len(t, tasks, 1)
	assert.Equal(t, "hello", tasks[0].Params["greeting"])
	assert.Equal(t, int64(5), tasks[0].Params["count"])
	assert.Equal(t, true, tasks[0].Params["enabled"])
}

func TestTickRollsBackWhenSubmitFails(t *testing.T) {
	f := newInputFixture(handlerTestConfig())
	ctx := context.Background()

	execution := seedExecution(t, f.stores, nil)
	seedQueueRow(t, f.stores, execution, "extract", 0, 0)
	seedQueueRow(t, f.stores, execution, "fetch", 0, 0)
	f.eng.SubmitErr = errors.New("engine unreachable")

	_, err := f.handler.tick(ctx)
	require.Error(t, err)

	// The rows and the execution status must read as if the tick never
	// happened, so the next tick retries the full batch.
	remaining, err := f.stores.Inputs().ListByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	for _, row := range remaining {
		assert.Zero(t, row.WaitFactor)
	}

	unchanged, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusPending, unchanged.Status())

	f.eng.SubmitErr = nil
	dispatched, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dispatched)
}

func TestTickAgesRowsLeftBehind(t *testing.T) {
	cfg := handlerTestConfig()
	cfg.BatchSize = 1
	f := newInputFixture(cfg)
	ctx := context.Background()

	execution := seedExecution(t, f.stores, nil)
	urgent := seedQueueRow(t, f.stores, execution, "urgent", 0, 2)
	starved := seedQueueRow(t, f.stores, execution, "starved", 0, 1)

	dispatched, err := f.handler.tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, dispatched)
	require.Len(t, f.eng.SubmittedFor(urgent.NodeID), 1)

	rows, err := f.stores.Inputs().ListByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, starved.ID, rows[0].ID)
	assert.Equal(t, 1, rows[0].WaitFactor)

	// A fresh row of the same priority loses to the one that waited.
	fresh := seedQueueRow(t, f.stores, execution, "fresh", 0, 1)
	dispatched, err = f.handler.tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, dispatched)
	assert.Len(t, f.eng.SubmittedFor(starved.NodeID), 1)
	assert.Empty(t, f.eng.SubmittedFor(fresh.NodeID))
}

func TestTickSkipsRowsOfTerminalExecutions(t *testing.T) {
	f := newInputFixture(handlerTestConfig())
	ctx := context.Background()

	execution := seedExecution(t, f.stores, nil)
	seedQueueRow(t, f.stores, execution, "late", 0, 0)

	loaded, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	require.NoError(t, loaded.Cancel(nil))
	require.NoError(t, f.stores.Executions().Update(ctx, loaded))

	dispatched, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, dispatched)
	assert.Empty(t, f.eng.Submitted())

	// The row stays for the cancel sweep; dispatch never deletes it.
	count, err := f.stores.Inputs().CountByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestTickSkipsRowsWithoutExecution(t *testing.T) {
	f := newInputFixture(handlerTestConfig())
	ctx := context.Background()

	orphan, err := model.NewExecutionInput(model.NewExecutionID(), "WSP-1", "WFL-1", "NOD-x", "x", "global_scripts/x.py")
	require.NoError(t, err)
	require.NoError(t, f.stores.Inputs().CreateBatch(ctx, []*model.ExecutionInput{orphan}))

	dispatched, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, dispatched)
	assert.Empty(t, f.eng.Submitted())
}

func TestTickContextFailureSkipsOnlyThatRow(t *testing.T) {
	f := newInputFixture(handlerTestConfig())
	ctx := context.Background()

	execution := seedExecution(t, f.stores, nil)

	broken, err := model.NewExecutionInput(
		execution.ID(), execution.WorkspaceID(), execution.WorkflowID(),
		"NOD-broken", "broken", "global_scripts/broken.py",
	)
	require.NoError(t, err)
	broken.Params["upstream"] = model.InputParam{Type: "string", Value: "${node:NOD-nonexistent.value}"}
	require.NoError(t, f.stores.Inputs().CreateBatch(ctx, []*model.ExecutionInput{broken}))

	healthy := seedQueueRow(t, f.stores, execution, "healthy", 0, 0)

	dispatched, err := f.handler.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	require.Len(t, f.eng.SubmittedFor(healthy.NodeID), 1)

	remaining, err := f.stores.Inputs().ListByExecutionID(ctx, execution.ID())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, broken.ID, remaining[0].ID)

	running, err := f.stores.Executions().FindByID(ctx, execution.ID())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusRunning, running.Status())
}

func TestInputHandlerRunStops(t *testing.T) {
	f := newInputFixture(handlerTestConfig())

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
		t.Fatal("input handler did not stop")
	}
}
