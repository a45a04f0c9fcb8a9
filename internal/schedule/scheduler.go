// Package schedule fires cron-type triggers. Enabled triggers are
// registered with a cron runner keyed by trigger ID, re-synced on a
// refresh interval so edits and newly enabled triggers take effect
// without a restart. Each firing launches an execution through the
// execution service with the trigger's default input values.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/miniflow-io/miniflow/internal/execution/app/service"
	"github.com/miniflow-io/miniflow/internal/platform/cache"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	wfmodel "github.com/miniflow-io/miniflow/internal/workflow/domain/model"
	wfrepo "github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

const (
	fireTimeout = 30 * time.Second
	lockTTL     = 50 * time.Second
)

// Starter launches executions. Satisfied by service.ExecutionService.
type Starter interface {
	StartExecution(ctx context.Context, cmd service.StartExecutionCommand) (*service.StartResult, error)
}

// TriggerScheduler keeps the cron runner in sync with the enabled
// cron triggers and launches an execution on every firing. With a
// Redis client configured, a short-lived lock per trigger firing keeps
// multiple scheduler replicas from launching duplicates.
type TriggerScheduler struct {
	triggers wfrepo.TriggerRepository
	starter  Starter
	redis    *cache.Client
	refresh  time.Duration
	log      logger.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]scheduleEntry

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// scheduleEntry tracks one registered trigger. The expression is kept
// so a refresh can detect edits and re-register the cron job.
type scheduleEntry struct {
	id   cron.EntryID
	expr string
}

// NewTriggerScheduler builds a scheduler over the trigger store.
// Expressions use the standard five-field cron format, matching what
// trigger creation accepts. redis may be nil for single-instance
// deployments.
func NewTriggerScheduler(
	triggers wfrepo.TriggerRepository,
	starter Starter,
	redis *cache.Client,
	refresh time.Duration,
	log logger.Logger,
) *TriggerScheduler {
	return &TriggerScheduler{
		triggers: triggers,
		starter:  starter,
		redis:    redis,
		refresh:  refresh,
		log:      log,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		entries: make(map[string]scheduleEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run loads the enabled cron triggers, starts the runner and re-syncs
// on the refresh interval until the context is cancelled or Stop is
// called.
func (s *TriggerScheduler) Run(ctx context.Context) {
	defer close(s.done)

	if err := s.Reload(ctx); err != nil {
		s.log.Error("initial trigger load failed", "error", err)
	}
	s.cron.Start()
	s.log.Info("trigger scheduler started",
		"triggers", s.Count(),
		"refresh_interval", s.refresh,
	)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-s.stop:
			s.drain()
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				s.log.Error("trigger refresh failed", "error", err)
			}
		}
	}
}

// Stop halts the refresh loop and waits up to grace for in-flight
// firings to finish.
func (s *TriggerScheduler) Stop(grace time.Duration) {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-time.After(grace):
		s.log.Warn("trigger scheduler did not drain in time", "grace", grace)
	}
}

func (s *TriggerScheduler) drain() {
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(fireTimeout):
		s.log.Warn("cron jobs still running at shutdown")
	}
	s.log.Info("trigger scheduler stopped")
}

// Reload syncs the cron runner with the trigger store: new triggers
// are registered, edited expressions re-registered, and disabled or
// deleted triggers removed.
func (s *TriggerScheduler) Reload(ctx context.Context) error {
	triggers, err := s.triggers.ListEnabledByType(ctx, wfmodel.TriggerTypeCron)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(triggers))
	for _, trigger := range triggers {
		seen[trigger.ID] = true

		if existing, ok := s.entries[trigger.ID]; ok {
			if existing.expr == trigger.CronExpression {
				continue
			}
			s.cron.Remove(existing.id)
			delete(s.entries, trigger.ID)
			s.log.Info("trigger schedule updated",
				"trigger_id", trigger.ID,
				"cron_expression", trigger.CronExpression,
			)
		}

		if err := s.register(trigger); err != nil {
			s.log.Error("trigger registration failed",
				"trigger_id", trigger.ID,
				"cron_expression", trigger.CronExpression,
				"error", err,
			)
		}
	}

	for triggerID, entry := range s.entries {
		if seen[triggerID] {
			continue
		}
		s.cron.Remove(entry.id)
		delete(s.entries, triggerID)
		s.log.Info("trigger schedule removed", "trigger_id", triggerID)
	}

	return nil
}

// register adds one trigger to the runner. Caller holds s.mu.
func (s *TriggerScheduler) register(trigger *wfmodel.Trigger) error {
	triggerID := trigger.ID
	id, err := s.cron.AddFunc(trigger.CronExpression, func() {
		s.fire(triggerID)
	})
	if err != nil {
		return err
	}
	s.entries[triggerID] = scheduleEntry{id: id, expr: trigger.CronExpression}
	return nil
}

// fire launches one execution for a trigger firing. Input values come
// from the trigger mapping defaults.
func (s *TriggerScheduler) fire(triggerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	// The lock is not released: its TTL is the deduplication window,
	// so a replica whose clock lags slightly still skips the firing.
	// The TTL stays under the one-minute cron granularity.
	if s.redis != nil {
		lock := s.redis.NewLock("cron:"+triggerID, lockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			s.log.Warn("cron lock unavailable, skipping firing",
				"trigger_id", triggerID,
				"error", err,
			)
			return
		}
		if !acquired {
			return
		}
	}

	result, err := s.starter.StartExecution(ctx, service.StartExecutionCommand{
		TriggerID:   triggerID,
		TriggeredBy: "scheduler",
	})
	if err != nil {
		s.log.Error("scheduled execution failed to launch",
			"trigger_id", triggerID,
			"error", err,
		)
		return
	}

	s.log.Info("scheduled execution launched",
		"trigger_id", triggerID,
		"execution_id", result.Execution.ID().String(),
		"input_count", result.InputCount,
	)
}

// Count reports how many triggers are currently registered.
func (s *TriggerScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
