package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecutionStartsPending(t *testing.T) {
	execution, err := NewExecution("WSP-1", "WFL-1", "TRG-1", "USR-1", map[string]interface{}{"key": "value"})
	require.NoError(t, err)

	assert.True(t, len(execution.ID()) > 4)
	assert.Equal(t, "EXE-", string(execution.ID())[:4])
	assert.Equal(t, ExecutionStatusPending, execution.Status())
	assert.False(t, execution.Terminal())
	assert.Equal(t, "value", execution.TriggerData()["key"])
	assert.NotNil(t, execution.Results())
	assert.Nil(t, execution.EndedAt())
}

func TestNewExecutionRequiresOwnership(t *testing.T) {
	_, err := NewExecution("", "WFL-1", "", "test", nil)
	assert.Error(t, err)

	_, err = NewExecution("WSP-1", "", "", "test", nil)
	assert.Error(t, err)

	// Trigger and actor are optional: direct launches have no trigger.
	execution, err := NewExecution("WSP-1", "WFL-1", "", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, execution.TriggerData())
}

func TestExecutionLifecycleTransitions(t *testing.T) {
	execution, err := NewExecution("WSP-1", "WFL-1", "", "test", nil)
	require.NoError(t, err)

	require.NoError(t, execution.Start())
	assert.Equal(t, ExecutionStatusRunning, execution.Status())
	assert.Error(t, execution.Start())

	results := map[string]interface{}{"NOD-a": map[string]interface{}{"status": "SUCCESS"}}
	require.NoError(t, execution.Complete(results))
	assert.Equal(t, ExecutionStatusCompleted, execution.Status())
	assert.True(t, execution.Terminal())
	assert.Equal(t, results, execution.Results())
	require.NotNil(t, execution.EndedAt())

	assert.Error(t, execution.Start())
	assert.Error(t, execution.Complete(nil))
	assert.Error(t, execution.Fail(nil))
	assert.Error(t, execution.Cancel(nil))
}

func TestExecutionCompletesStraightFromPending(t *testing.T) {
	execution, err := NewExecution("WSP-1", "WFL-1", "", "test", nil)
	require.NoError(t, err)

	require.NoError(t, execution.Complete(nil))
	assert.Equal(t, ExecutionStatusCompleted, execution.Status())
}

func TestExecutionFailKeepsCollectedResults(t *testing.T) {
	execution, err := NewExecution("WSP-1", "WFL-1", "", "test", nil)
	require.NoError(t, err)
	require.NoError(t, execution.Start())

	results := map[string]interface{}{
		"NOD-a": map[string]interface{}{"status": "SUCCESS"},
		"NOD-b": map[string]interface{}{"status": "FAILED"},
	}
	require.NoError(t, execution.Fail(results))
	assert.Equal(t, ExecutionStatusFailed, execution.Status())
	assert.Len(t, execution.Results(), 2)
	assert.Error(t, execution.Fail(nil))
}

func TestExecutionCancelFromAnyLiveStatus(t *testing.T) {
	pending, err := NewExecution("WSP-1", "WFL-1", "", "test", nil)
	require.NoError(t, err)
	require.NoError(t, pending.Cancel(nil))
	assert.Equal(t, ExecutionStatusCancelled, pending.Status())

	running, err := NewExecution("WSP-1", "WFL-1", "", "test", nil)
	require.NoError(t, err)
	require.NoError(t, running.Start())
	require.NoError(t, running.Cancel(nil))
	assert.Equal(t, ExecutionStatusCancelled, running.Status())
	assert.Error(t, running.Cancel(nil))
}

func TestExecutionDuration(t *testing.T) {
	execution, err := NewExecution("WSP-1", "WFL-1", "", "test", nil)
	require.NoError(t, err)
	assert.Zero(t, execution.Duration())

	require.NoError(t, execution.Start())
	require.NoError(t, execution.Complete(nil))
	assert.GreaterOrEqual(t, execution.Duration(), time.Duration(0))
}

func TestReconstructExecutionFillsDefaults(t *testing.T) {
	now := time.Now()
	execution := ReconstructExecution(
		"EXE-1", "WSP-1", "WFL-1", "TRG-1", "USR-1",
		ExecutionStatusRunning, nil, nil, &now, nil, now, now,
	)

	assert.Equal(t, ExecutionID("EXE-1"), execution.ID())
	assert.Equal(t, ExecutionStatusRunning, execution.Status())
	assert.NotNil(t, execution.TriggerData())
	assert.NotNil(t, execution.Results())
}

func TestResultEntryShape(t *testing.T) {
	output := NewExecutionOutput("EXE-1", "NOD-a", "extract", OutputStatusSuccess)
	output.ResultData = map[string]interface{}{"rows": 42}
	output.StartedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	output.EndedAt = output.StartedAt.Add(1500 * time.Millisecond)
	output.Duration = 1.5
	output.MemoryMB = 128
	output.RetryCount = 1

	entry := output.ResultEntry()
	assert.Equal(t, "extract", entry["node_name"])
	assert.Equal(t, "SUCCESS", entry["status"])
	assert.Equal(t, map[string]interface{}{"rows": 42}, entry["result_data"])
	assert.Equal(t, 1.5, entry["duration"])
	assert.Equal(t, 1, entry["retry_count"])
	assert.Equal(t, "2026-03-01T10:00:00Z", entry["started_at"])
	assert.Equal(t, float64(128), entry["memory_mb"])

	// Zero-valued optionals stay out of the entry.
	assert.NotContains(t, entry, "cpu_percent")
	assert.NotContains(t, entry, "error_message")
	assert.NotContains(t, entry, "error_details")
}

func TestResultEntryCarriesFailureDetails(t *testing.T) {
	output := NewExecutionOutput("EXE-1", "NOD-a", "extract", OutputStatusFailed)
	output.ErrorMessage = "script exited 1"
	output.ErrorDetails = map[string]interface{}{"exit_code": 1}

	entry := output.ResultEntry()
	assert.Equal(t, "FAILED", entry["status"])
	assert.Equal(t, "script exited 1", entry["error_message"])
	assert.Equal(t, map[string]interface{}{"exit_code": 1}, entry["error_details"])
	assert.NotContains(t, entry, "started_at")
	assert.NotContains(t, entry, "ended_at")
}

func TestCancelledOutputNamesTheCulprit(t *testing.T) {
	input, err := NewExecutionInput("EXE-1", "WSP-1", "WFL-1", "NOD-b", "transform", "global_scripts/transform.py")
	require.NoError(t, err)

	out := NewCancelledOutput(input, "NOD-a")
	assert.Equal(t, OutputStatusCancelled, out.Status)
	assert.Equal(t, "NOD-b", out.NodeID)
	assert.Equal(t, "transform", out.NodeName)
	assert.Equal(t, "Cancelled because of failed node: NOD-a", out.ErrorMessage)
	assert.False(t, out.Succeeded())

	byUser := NewCancelledOutputWithMessage(input, "Cancelled by user request")
	assert.Equal(t, "Cancelled by user request", byUser.ErrorMessage)
}

func TestExecutionInputReadiness(t *testing.T) {
	input, err := NewExecutionInput("EXE-1", "WSP-1", "WFL-1", "NOD-a", "extract", "global_scripts/extract.py")
	require.NoError(t, err)
	assert.True(t, input.Ready())

	input.DependencyCount = 2
	assert.False(t, input.Ready())

	_, err = NewExecutionInput("", "WSP-1", "WFL-1", "NOD-a", "extract", "path")
	assert.Error(t, err)
	_, err = NewExecutionInput("EXE-1", "WSP-1", "WFL-1", "", "extract", "path")
	assert.Error(t, err)
	_, err = NewExecutionInput("EXE-1", "WSP-1", "WFL-1", "NOD-a", "extract", "")
	assert.Error(t, err)
}

func TestInputParamEffectiveValue(t *testing.T) {
	assert.Equal(t, "set", InputParam{Value: "set", DefaultValue: "default"}.EffectiveValue())
	assert.Equal(t, "default", InputParam{DefaultValue: "default"}.EffectiveValue())
	assert.Nil(t, InputParam{}.EffectiveValue())

	// A present-but-false value must win over the default.
	assert.Equal(t, false, InputParam{Value: false, DefaultValue: true}.EffectiveValue())
}
