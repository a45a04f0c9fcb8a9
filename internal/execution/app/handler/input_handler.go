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
	"github.com/miniflow-io/miniflow/internal/execution/domain/service"
	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
)

// Tick outcomes recorded on the tick counters.
const (
	tickOutcomeDispatched = "dispatched"
	tickOutcomeIdle       = "idle"
	tickOutcomeError      = "error"
)

// InputHandler drives the ready queue. Each tick runs one transaction:
// select ready rows with their locks held, age the rows left behind,
// build task payloads on the worker pool, submit the batch to the
// engine, then delete exactly the dispatched rows. A failed submit
// rolls the whole tick back so the rows surface again next tick.
type InputHandler struct {
	cfg      config.HandlerConfig
	uow      repository.UnitOfWork
	resolver *service.Resolver
	queue    engine.Queue
	pool     *engine.WorkerPool
	metrics  *metrics.Metrics
	log      logger.Logger
	tracer   trace.Tracer
	poll     *poller

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewInputHandler creates the dispatch loop. m and tracer may be nil.
func NewInputHandler(
	cfg config.HandlerConfig,
	uow repository.UnitOfWork,
	resolver *service.Resolver,
	queue engine.Queue,
	m *metrics.Metrics,
	log logger.Logger,
	tracer trace.Tracer,
) *InputHandler {
	poolSize := cfg.WorkerThreads
	if !cfg.ParallelContext {
		poolSize = 1
	}
	if tracer == nil {
		tracer = otel.Tracer("miniflow/input-handler")
	}

	var gauge prometheus.Gauge
	if m != nil {
		gauge = m.PollIntervalSecs.WithLabelValues("input")
	}

	return &InputHandler{
		cfg:      cfg,
		uow:      uow,
		resolver: resolver,
		queue:    queue,
		pool:     engine.NewWorkerPool(poolSize),
		metrics:  m,
		log:      log,
		tracer:   tracer,
		poll:     newPoller(cfg.MinPollingInterval, cfg.MaxPollingInterval, cfg.AdaptivePolling, gauge),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run drives the dispatch loop until ctx is cancelled or Stop is
// called. It blocks; callers run it on its own goroutine.
func (h *InputHandler) Run(ctx context.Context) {
	defer close(h.done)

	h.log.Info("input handler started",
		"batch_size", h.cfg.BatchSize,
		"worker_threads", h.pool.Size(),
		"adaptive_polling", h.cfg.AdaptivePolling,
	)

	timer := time.NewTimer(h.poll.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("input handler stopped", "reason", ctx.Err())
			return
		case <-h.stop:
			h.log.Info("input handler stopped")
			return
		case <-timer.C:
		}

		dispatched, err := h.tick(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				h.log.Info("input handler stopped", "reason", ctx.Err())
				return
			}
			h.countTick(tickOutcomeError)
			h.log.Error("input tick failed", "error", err)
			h.poll.Idle()
		case dispatched > 0:
			h.countTick(tickOutcomeDispatched)
			if h.metrics != nil {
				h.metrics.InputsDispatched.Add(float64(dispatched))
			}
			h.poll.Productive()
		default:
			h.countTick(tickOutcomeIdle)
			h.poll.Idle()
		}

		timer.Reset(h.poll.Interval())
	}
}

// Stop asks the loop to exit and waits up to grace for the in-flight
// tick to finish.
func (h *InputHandler) Stop(grace time.Duration) {
	h.stopOnce.Do(func() { close(h.stop) })
	select {
	case <-h.done:
	case <-time.After(grace):
		h.log.Warn("input handler did not drain in time", "grace", grace)
	}
}

// tick runs one dispatch round and reports how many tasks it handed to
// the engine.
func (h *InputHandler) tick(ctx context.Context) (int, error) {
	ctx, span := h.tracer.Start(ctx, "input_handler.tick")
	defer span.End()

	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	dispatched := 0
	err := h.uow.InTransaction(ctx, func(stores repository.Stores) error {
		inputs, err := stores.Inputs().SelectReadyForDispatch(ctx, h.cfg.BatchSize)
		if err != nil {
			return errs.Database(err, "selecting ready inputs")
		}
		if len(inputs) == 0 {
			return nil
		}

		selectedIDs := make([]string, len(inputs))
		for i, input := range inputs {
			selectedIDs[i] = input.ID
		}
		aged, err := stores.Inputs().IncrementWaitFactorExcept(ctx, selectedIDs)
		if err != nil {
			return errs.Database(err, "aging unselected inputs")
		}
		if h.metrics != nil && aged > 0 {
			h.metrics.WaitFactorBumps.Add(float64(aged))
		}

		executions, err := h.loadExecutions(ctx, stores, inputs)
		if err != nil {
			return err
		}

		tasks, built := h.buildTasks(ctx, executions, inputs)
		if len(tasks) == 0 {
			return nil
		}

		if err := h.submit(ctx, tasks); err != nil {
			return err
		}

		builtIDs := make([]string, len(built))
		for i, input := range built {
			builtIDs[i] = input.ID
		}
		if err := stores.Inputs().DeleteByIDs(ctx, builtIDs); err != nil {
			return errs.Database(err, "deleting dispatched inputs")
		}
		if err := stores.Executions().MarkRunning(ctx, executionIDs(built)); err != nil {
			return errs.Database(err, "marking executions running")
		}

		dispatched = len(tasks)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return dispatched, nil
}

// loadExecutions resolves the executions behind a selected batch so
// the resolver can reach trigger data. An input whose execution is
// missing or already terminal is skipped, not failed: its row stays
// locked until commit and the cancel path sweeps it afterwards.
func (h *InputHandler) loadExecutions(ctx context.Context, stores repository.Stores, inputs []*model.ExecutionInput) (map[model.ExecutionID]*model.Execution, error) {
	executions := make(map[model.ExecutionID]*model.Execution)
	for _, input := range inputs {
		if _, ok := executions[input.ExecutionID]; ok {
			continue
		}
		execution, err := stores.Executions().FindByID(ctx, input.ExecutionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				h.log.Warn("input without execution skipped",
					"execution_id", input.ExecutionID,
					"node_id", input.NodeID,
				)
				continue
			}
			return nil, errs.Database(err, "loading execution %s", input.ExecutionID)
		}
		executions[input.ExecutionID] = execution
	}
	return executions, nil
}

// buildTasks resolves parameters for every selected input on the
// worker pool. A per-input failure is logged and that input skipped
// for this tick; its peers proceed.
func (h *InputHandler) buildTasks(ctx context.Context, executions map[model.ExecutionID]*model.Execution, inputs []*model.ExecutionInput) ([]engine.TaskPayload, []*model.ExecutionInput) {
	type slot struct {
		task engine.TaskPayload
		ok   bool
	}
	slots := make([]slot, len(inputs))

	h.pool.Run(ctx, len(inputs), func(ctx context.Context, i int) {
		input := inputs[i]
		execution := executions[input.ExecutionID]
		if execution == nil {
			return
		}
		if execution.Terminal() {
			h.log.Debug("input of terminal execution skipped",
				"execution_id", input.ExecutionID,
				"node_id", input.NodeID,
				"status", execution.Status(),
			)
			return
		}

		buildCtx, cancel := context.WithTimeout(ctx, h.cfg.ContextTimeout)
		defer cancel()

		buildStart := time.Now()
		spanCtx, span := h.tracer.Start(buildCtx, "input_handler.build_context")
		params, err := h.resolver.BuildParams(spanCtx, execution, input)
		span.End()
		if h.metrics != nil {
			h.metrics.ContextDuration.Observe(time.Since(buildStart).Seconds())
		}
		if err != nil {
			if h.metrics != nil {
				h.metrics.ContextBuildSkips.Inc()
			}
			h.log.Warn("context build failed, input skipped this tick",
				"execution_id", input.ExecutionID,
				"node_id", input.NodeID,
				"node_name", input.NodeName,
				"error", errs.ContextBuild(err, "building context for node %s", input.NodeID),
			)
			return
		}

		slots[i] = slot{
			ok: true,
			task: engine.TaskPayload{
				ExecutionID:    input.ExecutionID.String(),
				NodeID:         input.NodeID,
				WorkflowID:     input.WorkflowID,
				WorkspaceID:    input.WorkspaceID,
				ScriptPath:     input.ScriptPath,
				Params:         params,
				MaxRetries:     input.MaxRetries,
				TimeoutSeconds: input.TimeoutSeconds,
				ProcessType:    engine.ProcessTypeIOB,
			},
		}
	})

	tasks := make([]engine.TaskPayload, 0, len(inputs))
	built := make([]*model.ExecutionInput, 0, len(inputs))
	for i, s := range slots {
		if s.ok {
			tasks = append(tasks, s.task)
			built = append(built, inputs[i])
		}
	}
	return tasks, built
}

// submit hands a batch to the engine, retrying with linear backoff
func (h *InputHandler) submit(ctx context.Context, tasks []engine.TaskPayload) error {
	submitCtx, cancel := context.WithTimeout(ctx, h.cfg.EngineTimeout)
	defer cancel()

	retryCfg := &engine.RetryConfig{
		MaxAttempts: h.cfg.MaxRetries,
		BaseDelay:   h.cfg.RetryDelay,
		Retryable:   errs.Retryable,
		OnRetry: func(attempt int, err error) {
			if h.metrics != nil {
				h.metrics.EngineSubmissionRetry.Inc()
			}
			h.log.Warn("engine submission retried",
				"attempt", attempt,
				"tasks", len(tasks),
				"error", err,
			)
		},
	}

	err := engine.Retry(submitCtx, retryCfg, func(ctx context.Context, attempt int) error {
		if err := h.queue.SubmitTasks(ctx, tasks); err != nil {
			return errs.EngineSubmission(err, "submitting %d tasks", len(tasks))
		}
		return nil
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.EngineSubmissionErrors.Inc()
		}
		return err
	}

	if h.metrics != nil {
		h.metrics.EngineSubmissions.Inc()
	}
	return nil
}

func (h *InputHandler) countTick(outcome string) {
	if h.metrics != nil {
		h.metrics.InputTicksTotal.WithLabelValues(outcome).Inc()
	}
}

// executionIDs returns the distinct execution IDs of a set of inputs
func executionIDs(inputs []*model.ExecutionInput) []model.ExecutionID {
	seen := make(map[model.ExecutionID]bool, len(inputs))
	ids := make([]model.ExecutionID, 0, len(inputs))
	for _, input := range inputs {
		if !seen[input.ExecutionID] {
			seen[input.ExecutionID] = true
			ids = append(ids, input.ExecutionID)
		}
	}
	return ids
}
