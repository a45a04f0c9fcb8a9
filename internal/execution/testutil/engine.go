package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/miniflow-io/miniflow/internal/engine"
)

// Outcome scripts the synthesized result of one node.
type Outcome struct {
	Status       string // engine.ResultStatusSuccess or engine.ResultStatusFailed
	Data         map[string]interface{}
	ErrorMessage string
	RetryCount   int
}

// StubEngine implements engine.Queue standing in for the worker fleet.
// Every submitted task immediately synthesizes a result according to
// the outcome scripted for its node. Unscripted nodes succeed and echo
// their resolved params as result data, so reference chains can be
// asserted end to end.
//
// Usage:
//
//	eng := testutil.NewStubEngine()
//	eng.FailNode(nodeA.ID, "boom")
//	handler := handler.NewInputHandler(cfg, stores, resolver, eng, nil, log, nil)
type StubEngine struct {
	*engine.InMemoryQueue

	mu        sync.Mutex
	outcomes  map[string]Outcome
	submitted []engine.TaskPayload

	// SubmitErr, when set, fails SubmitTasks without recording or
	// synthesizing anything. Used to drive dispatch rollback.
	SubmitErr error
}

// NewStubEngine creates a stub engine where every node succeeds.
func NewStubEngine() *StubEngine {
	return &StubEngine{
		InMemoryQueue: engine.NewInMemoryQueue(),
		outcomes:      make(map[string]Outcome),
	}
}

// Succeed scripts a successful result with the given data for a node.
func (s *StubEngine) Succeed(nodeID string, data map[string]interface{}) {
	s.Script(nodeID, Outcome{Status: engine.ResultStatusSuccess, Data: data})
}

// FailNode scripts a failed result with the given message for a node.
func (s *StubEngine) FailNode(nodeID, message string) {
	s.Script(nodeID, Outcome{Status: engine.ResultStatusFailed, ErrorMessage: message})
}

// Script sets the outcome synthesized for a node.
func (s *StubEngine) Script(nodeID string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[nodeID] = outcome
}

// SubmitTasks records the batch and pushes one synthesized result per
// task, as the worker fleet would after running the scripts.
func (s *StubEngine) SubmitTasks(ctx context.Context, tasks []engine.TaskPayload) error {
	s.mu.Lock()
	if s.SubmitErr != nil {
		err := s.SubmitErr
		s.mu.Unlock()
		return err
	}
	s.submitted = append(s.submitted, tasks...)
	results := make([]engine.ResultPayload, 0, len(tasks))
	for _, task := range tasks {
		results = append(results, s.resultFor(task))
	}
	s.mu.Unlock()

	s.PushResults(results...)
	return nil
}

// Submitted returns a copy of every task submitted so far.
func (s *StubEngine) Submitted() []engine.TaskPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]engine.TaskPayload, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// SubmittedFor returns the submitted tasks of one node, in order.
func (s *StubEngine) SubmittedFor(nodeID string) []engine.TaskPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []engine.TaskPayload
	for _, task := range s.submitted {
		if task.NodeID == nodeID {
			out = append(out, task)
		}
	}
	return out
}

func (s *StubEngine) resultFor(task engine.TaskPayload) engine.ResultPayload {
	outcome, ok := s.outcomes[task.NodeID]
	if !ok {
		outcome = Outcome{Status: engine.ResultStatusSuccess, Data: task.Params}
	}
	if outcome.Status == "" {
		outcome.Status = engine.ResultStatusSuccess
	}

	now := time.Now()
	started := now
	ended := now
	return engine.ResultPayload{
		ExecutionID:  task.ExecutionID,
		NodeID:       task.NodeID,
		Status:       outcome.Status,
		ResultData:   outcome.Data,
		StartedAt:    &started,
		EndedAt:      &ended,
		ErrorMessage: outcome.ErrorMessage,
		RetryCount:   outcome.RetryCount,
	}
}

var _ engine.Queue = (*StubEngine)(nil)
