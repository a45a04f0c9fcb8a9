package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/miniflow-io/miniflow/internal/engine"
	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
	"github.com/miniflow-io/miniflow/internal/shared/events"
	wfrepo "github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

// OutputHandler consumes worker results. Each result is applied in one
// transaction behind the execution's row lock: record the output, then
// either unlock downstream work (SUCCESS), finalize COMPLETED (SUCCESS
// of a terminal node), or cascade-cancel and finalize FAILED. Results
// for executions already terminal are dropped, which makes re-delivery
// harmless.
type OutputHandler struct {
	cfg       config.HandlerConfig
	uow       repository.UnitOfWork
	nodes     wfrepo.NodeRepository
	edges     wfrepo.EdgeRepository
	queue     engine.Queue
	pool      *engine.WorkerPool
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       logger.Logger
	tracer    trace.Tracer
	poll      *poller

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewOutputHandler creates the result loop. publisher, m and tracer
// may be nil.
func NewOutputHandler(
	cfg config.HandlerConfig,
	uow repository.UnitOfWork,
	nodes wfrepo.NodeRepository,
	edges wfrepo.EdgeRepository,
	queue engine.Queue,
	publisher events.Publisher,
	m *metrics.Metrics,
	log logger.Logger,
	tracer trace.Tracer,
) *OutputHandler {
	if tracer == nil {
		tracer = otel.Tracer("miniflow/output-handler")
	}

	var gauge prometheus.Gauge
	if m != nil {
		gauge = m.PollIntervalSecs.WithLabelValues("output")
	}

	return &OutputHandler{
		cfg:       cfg,
		uow:       uow,
		nodes:     nodes,
		edges:     edges,
		queue:     queue,
		pool:      engine.NewWorkerPool(cfg.WorkerThreads),
		publisher: publisher,
		metrics:   m,
		log:       log,
		tracer:    tracer,
		poll:      newPoller(cfg.MinPollingInterval, cfg.MaxPollingInterval, cfg.AdaptivePolling, gauge),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run drives the result loop until ctx is cancelled or Stop is called.
// It blocks; callers run it on its own goroutine.
func (h *OutputHandler) Run(ctx context.Context) {
	defer close(h.done)

	h.log.Info("output handler started",
		"batch_size", h.cfg.BatchSize,
		"worker_threads", h.pool.Size(),
		"poll_timeout", h.cfg.PollTimeout,
	)

	timer := time.NewTimer(h.poll.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("output handler stopped", "reason", ctx.Err())
			return
		case <-h.stop:
			h.log.Info("output handler stopped")
			return
		case <-timer.C:
		}

		processed, err := h.tick(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				h.log.Info("output handler stopped", "reason", ctx.Err())
				return
			}
			h.log.Error("output tick failed", "error", err)
			h.poll.Idle()
		case processed > 0:
			h.poll.Productive()
		default:
			h.poll.Idle()
		}

		timer.Reset(h.poll.Interval())
	}
}

// Stop asks the loop to exit and waits up to grace for the in-flight
// batch to finish.
func (h *OutputHandler) Stop(grace time.Duration) {
	h.stopOnce.Do(func() { close(h.stop) })
	select {
	case <-h.done:
	case <-time.After(grace):
		h.log.Warn("output handler did not drain in time", "grace", grace)
	}
}

// tick polls one batch of results and applies each on the worker pool
func (h *OutputHandler) tick(ctx context.Context) (int, error) {
	results, err := h.queue.PollResults(ctx, h.cfg.BatchSize, h.cfg.PollTimeout)
	if err != nil {
		return 0, errs.ResultProcessing(err, "polling engine results")
	}
	if len(results) == 0 {
		return 0, nil
	}
	if h.metrics != nil {
		h.metrics.EnginePollBatches.Inc()
	}

	ctx, span := h.tracer.Start(ctx, "output_handler.tick")
	defer span.End()

	h.pool.Run(ctx, len(results), func(ctx context.Context, i int) {
		h.handleResult(ctx, results[i])
	})
	return len(results), nil
}

// handleResult validates and applies one engine result, retrying
// transient processing failures with linear backoff. Exhaustion drops
// the result; a redelivery or the next terminal result will converge
// the execution.
func (h *OutputHandler) handleResult(ctx context.Context, result engine.ResultPayload) {
	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.ResultDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := result.Validate(); err != nil {
		if h.metrics != nil {
			h.metrics.InvalidResults.Inc()
		}
		h.log.Warn("invalid engine result dropped",
			"execution_id", result.ExecutionID,
			"node_id", result.NodeID,
			"status", result.Status,
			"error", err,
		)
		return
	}
	if h.metrics != nil {
		h.metrics.ResultsTotal.WithLabelValues(result.Status).Inc()
	}

	retryCfg := &engine.RetryConfig{
		MaxAttempts: h.cfg.MaxRetries,
		BaseDelay:   h.cfg.RetryDelay,
		Retryable:   errs.Retryable,
		OnRetry: func(attempt int, err error) {
			h.log.Warn("result processing retried",
				"execution_id", result.ExecutionID,
				"node_id", result.NodeID,
				"attempt", attempt,
				"error", err,
			)
		},
	}

	var applied *model.Execution
	var finalized bool
	err := engine.Retry(ctx, retryCfg, func(ctx context.Context, attempt int) error {
		execution, final, err := h.apply(ctx, result)
		applied, finalized = execution, final
		return err
	})
	if err != nil {
		h.log.Error("engine result dropped",
			"execution_id", result.ExecutionID,
			"node_id", result.NodeID,
			"status", result.Status,
			"error", err,
		)
		return
	}
	if applied == nil {
		// re-delivery of a result for a terminal execution
		return
	}

	h.publishNodeCompleted(applied.WorkspaceID(), result)
	if finalized {
		h.finalizeMetrics(applied)
		h.publishFinal(applied, result)
		h.log.Info("execution finalized",
			"execution_id", applied.ID(),
			"workspace_id", applied.WorkspaceID(),
			"status", applied.Status(),
			"last_node", result.NodeID,
		)
	}
}

// apply records one result inside the execution's row lock. It returns
// the execution when the result was applied (nil when dropped as a
// re-delivery) and whether this result drove it terminal.
func (h *OutputHandler) apply(ctx context.Context, result engine.ResultPayload) (*model.Execution, bool, error) {
	ctx, span := h.tracer.Start(ctx, "output_handler.apply")
	defer span.End()

	executionID := model.ExecutionID(result.ExecutionID)
	var applied *model.Execution
	var finalized bool

	err := h.uow.InTransaction(ctx, func(stores repository.Stores) error {
		execution, err := stores.Executions().FindByIDForUpdate(ctx, executionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return errs.NotFound("execution %s not found for result of node %s", executionID, result.NodeID)
			}
			return errs.ResultProcessing(err, "locking execution %s", executionID)
		}
		if execution.Terminal() {
			h.log.Debug("result for terminal execution dropped",
				"execution_id", executionID,
				"node_id", result.NodeID,
				"status", execution.Status(),
			)
			return nil
		}

		output := h.outputFromResult(ctx, executionID, result)
		if err := stores.Outputs().Create(ctx, output); err != nil {
			return errs.ResultProcessing(err, "saving output of node %s", result.NodeID)
		}

		var final *model.Execution
		if result.Status == engine.ResultStatusSuccess {
			final, err = h.applySuccess(ctx, stores, execution, result.NodeID)
		} else {
			final, err = h.applyFailure(ctx, stores, execution, result.NodeID)
		}
		if err != nil {
			return err
		}

		applied = execution
		finalized = final != nil
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return applied, finalized, nil
}

// applySuccess unlocks downstream work, or finalizes COMPLETED when
// the succeeded node has no outgoing edges.
func (h *OutputHandler) applySuccess(ctx context.Context, stores repository.Stores, execution *model.Execution, nodeID string) (*model.Execution, error) {
	edges, err := h.edges.FindByFromNodeID(ctx, execution.WorkflowID(), nodeID)
	if err != nil {
		return nil, errs.ResultProcessing(err, "loading outgoing edges of node %s", nodeID)
	}

	if len(edges) == 0 {
		results, err := h.consolidate(ctx, stores, execution.ID(), "")
		if err != nil {
			return nil, err
		}
		if err := execution.Complete(results); err != nil {
			return nil, errs.BusinessRule("completing execution %s: %v", execution.ID(), err)
		}
		if err := stores.Executions().Update(ctx, execution); err != nil {
			return nil, errs.ResultProcessing(err, "updating execution %s", execution.ID())
		}
		return execution, nil
	}

	toNodeIDs := make([]string, len(edges))
	for i, edge := range edges {
		toNodeIDs[i] = edge.ToNodeID
	}
	decremented, err := stores.Inputs().DecrementDependencies(ctx, execution.ID(), toNodeIDs)
	if err != nil {
		return nil, errs.ResultProcessing(err, "decrementing dependencies after node %s", nodeID)
	}
	if h.metrics != nil && decremented > 0 {
		h.metrics.DependencyDecrems.Add(float64(decremented))
	}
	return nil, nil
}

// applyFailure cascade-cancels everything still queued and finalizes
// FAILED.
func (h *OutputHandler) applyFailure(ctx context.Context, stores repository.Stores, execution *model.Execution, failedNodeID string) (*model.Execution, error) {
	results, err := h.consolidate(ctx, stores, execution.ID(), failedNodeID)
	if err != nil {
		return nil, err
	}
	if err := execution.Fail(results); err != nil {
		return nil, errs.BusinessRule("failing execution %s: %v", execution.ID(), err)
	}
	if err := stores.Executions().Update(ctx, execution); err != nil {
		return nil, errs.ResultProcessing(err, "updating execution %s", execution.ID())
	}
	return execution, nil
}

// consolidate drains the output log of an execution into the
// node-keyed results map and clears both execution tables. With a
// failed node given, remaining queue rows become CANCELLED entries
// that win over stale output rows; without one they are dropped, as
// nothing ran for them.
func (h *OutputHandler) consolidate(ctx context.Context, stores repository.Stores, executionID model.ExecutionID, failedNodeID string) (map[string]interface{}, error) {
	outputs, err := stores.Outputs().ListByExecutionID(ctx, executionID)
	if err != nil {
		return nil, errs.ResultProcessing(err, "loading outputs of execution %s", executionID)
	}
	inputs, err := stores.Inputs().ListByExecutionID(ctx, executionID)
	if err != nil {
		return nil, errs.ResultProcessing(err, "loading inputs of execution %s", executionID)
	}

	results := make(map[string]interface{}, len(outputs)+len(inputs))
	for _, output := range outputs {
		results[output.NodeID] = output.ResultEntry()
	}
	if failedNodeID != "" {
		for _, input := range inputs {
			results[input.NodeID] = model.NewCancelledOutput(input, failedNodeID).ResultEntry()
		}
	}

	if err := stores.Outputs().DeleteByExecutionID(ctx, executionID); err != nil {
		return nil, errs.ResultProcessing(err, "deleting outputs of execution %s", executionID)
	}
	if err := stores.Inputs().DeleteByExecutionID(ctx, executionID); err != nil {
		return nil, errs.ResultProcessing(err, "deleting inputs of execution %s", executionID)
	}
	return results, nil
}

// outputFromResult maps an engine result onto the output row, looking
// up the node name the queue row carried before dispatch deleted it.
func (h *OutputHandler) outputFromResult(ctx context.Context, executionID model.ExecutionID, result engine.ResultPayload) *model.ExecutionOutput {
	nodeName := result.NodeID
	if node, err := h.nodes.FindByID(ctx, result.NodeID); err == nil {
		nodeName = node.Name
	}

	output := model.NewExecutionOutput(executionID, result.NodeID, nodeName, model.OutputStatus(result.Status))
	if result.ResultData != nil {
		output.ResultData = result.ResultData
	}
	if result.StartedAt != nil {
		output.StartedAt = *result.StartedAt
	}
	if result.EndedAt != nil {
		output.EndedAt = *result.EndedAt
	}
	if result.StartedAt != nil && result.EndedAt != nil {
		output.Duration = result.EndedAt.Sub(*result.StartedAt).Seconds()
	}
	if result.MemoryMB != nil {
		output.MemoryMB = *result.MemoryMB
	}
	if result.CPUPercent != nil {
		output.CPUPercent = *result.CPUPercent
	}
	output.ErrorMessage = result.ErrorMessage
	output.ErrorDetails = result.ErrorDetails
	output.RetryCount = result.RetryCount
	return output
}

func (h *OutputHandler) finalizeMetrics(execution *model.Execution) {
	if h.metrics != nil {
		h.metrics.Finalizations.WithLabelValues(string(execution.Status())).Inc()
	}
}

func (h *OutputHandler) publishNodeCompleted(workspaceID string, result engine.ResultPayload) {
	h.publish(result.ExecutionID, workspaceID, events.NodeCompleted{
		ExecutionID: result.ExecutionID,
		NodeID:      result.NodeID,
		Status:      result.Status,
		CompletedAt: time.Now(),
	})
}

func (h *OutputHandler) publishFinal(execution *model.Execution, result engine.ResultPayload) {
	switch execution.Status() {
	case model.ExecutionStatusCompleted:
		h.publish(execution.ID().String(), execution.WorkspaceID(), events.ExecutionCompleted{
			ExecutionID: execution.ID().String(),
			WorkflowID:  execution.WorkflowID(),
			CompletedAt: *execution.EndedAt(),
		})
	case model.ExecutionStatusFailed:
		h.publish(execution.ID().String(), execution.WorkspaceID(), events.ExecutionFailed{
			ExecutionID: execution.ID().String(),
			WorkflowID:  execution.WorkflowID(),
			FailedNode:  result.NodeID,
			Error:       result.ErrorMessage,
			FailedAt:    *execution.EndedAt(),
		})
	}
}

// publish wraps a payload and sends it best effort
func (h *OutputHandler) publish(executionID, workspaceID string, payload interface{}) {
	if h.publisher == nil {
		return
	}

	event, err := events.NewEvent(executionID, workspaceID, payload)
	if err != nil {
		h.log.Error("building lifecycle event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.publisher.Publish(ctx, event); err != nil {
		if h.metrics != nil {
			h.metrics.EventPublishErrors.Inc()
		}
		h.log.Warn("publishing lifecycle event failed",
			"event_type", event.EventType,
			"execution_id", executionID,
			"error", err,
		)
		return
	}
	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(event.EventType).Inc()
	}
}
