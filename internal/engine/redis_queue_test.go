package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflow-io/miniflow/internal/platform/cache"
	"github.com/miniflow-io/miniflow/internal/platform/config"
)

func testRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis, config.RedisConfig) {
	t.Helper()
	srv := miniredis.RunT(t)

	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)

	cfg := config.RedisConfig{
		Host:           srv.Host(),
		Port:           port,
		PoolSize:       2,
		DialTimeout:    time.Second,
		TaskQueueKey:   "miniflow:tasks",
		ResultQueueKey: "miniflow:results",
	}
	client, err := cache.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisQueue(client, cfg), srv, cfg
}

func pushResult(t *testing.T, srv *miniredis.Miniredis, key string, result ResultPayload) {
	t.Helper()
	data, err := json.Marshal(&result)
	require.NoError(t, err)
	_, err = srv.Lpush(key, string(data))
	require.NoError(t, err)
}

func TestRedisQueueSubmitEncodesTasks(t *testing.T) {
	q, srv, cfg := testRedisQueue(t)

	tasks := []TaskPayload{
		{ExecutionID: "EXE-1", NodeID: "NOD-a", WorkflowID: "WFL-1", WorkspaceID: "WSP-1", ScriptPath: "global_scripts/extract.py", MaxRetries: 3, TimeoutSeconds: 60, ProcessType: "iob"},
		{ExecutionID: "EXE-1", NodeID: "NOD-b", WorkflowID: "WFL-1", WorkspaceID: "WSP-1", ScriptPath: "global_scripts/load.py", ProcessType: "iob"},
	}
	require.NoError(t, q.SubmitTasks(context.Background(), tasks))

	raw, err := srv.List(cfg.TaskQueueKey)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	// Workers pop from the tail, so the first submitted task sits there.
	var tail TaskPayload
	require.NoError(t, json.Unmarshal([]byte(raw[len(raw)-1]), &tail))
	assert.Equal(t, "NOD-a", tail.NodeID)
	assert.Equal(t, "global_scripts/extract.py", tail.ScriptPath)
	assert.Equal(t, "iob", tail.ProcessType)
	assert.Equal(t, 3, tail.MaxRetries)
}

func TestRedisQueueSubmitNothing(t *testing.T) {
	q, srv, cfg := testRedisQueue(t)

	require.NoError(t, q.SubmitTasks(context.Background(), nil))
	assert.False(t, srv.Exists(cfg.TaskQueueKey))
}

func TestRedisQueuePollPreservesWorkerOrder(t *testing.T) {
	q, srv, cfg := testRedisQueue(t)

	for _, id := range []string{"EXE-1", "EXE-2", "EXE-3"} {
		pushResult(t, srv, cfg.ResultQueueKey, ResultPayload{ExecutionID: id, NodeID: "NOD-a", Status: ResultStatusSuccess})
	}

	results, err := q.PollResults(context.Background(), 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "EXE-1", results[0].ExecutionID)
	assert.Equal(t, "EXE-2", results[1].ExecutionID)
	assert.Equal(t, "EXE-3", results[2].ExecutionID)
}

func TestRedisQueuePollRespectsMaxItems(t *testing.T) {
	q, srv, cfg := testRedisQueue(t)

	for _, id := range []string{"EXE-1", "EXE-2", "EXE-3"} {
		pushResult(t, srv, cfg.ResultQueueKey, ResultPayload{ExecutionID: id, NodeID: "NOD-a", Status: ResultStatusSuccess})
	}

	results, err := q.PollResults(context.Background(), 2, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, results, 2)

	left, err := srv.List(cfg.ResultQueueKey)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestRedisQueuePollTimesOutEmpty(t *testing.T) {
	q, _, _ := testRedisQueue(t)

	results, err := q.PollResults(context.Background(), 5, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestRedisQueueHealthCheck(t *testing.T) {
	q, _, _ := testRedisQueue(t)
	assert.NoError(t, q.HealthCheck(context.Background()))
	assert.NoError(t, q.Close())
}
