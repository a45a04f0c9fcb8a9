// Package testutil provides in-memory implementations of the execution
// context's persistence, catalog, messaging and engine ports. The
// stores keep real transactional semantics so handler tests exercise
// the same commit and rollback paths the postgres adapters do.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/domain/repository"
)

// MemoryStores is an in-memory implementation of repository.Stores and
// repository.UnitOfWork. Mutations made inside InTransaction are
// applied to a copy of the state and swapped in only when fn returns
// nil, so a failed tick leaves the queue exactly as it was.
//
// Usage:
//
//	stores := testutil.NewMemoryStores()
//	svc := service.NewExecutionService(stores, stores, ...)
type MemoryStores struct {
	// txMu serializes whole transactions; mu guards the committed
	// state pointer. Keeping them separate lets pool views read the
	// committed state while a transaction is in flight, the way a
	// second postgres connection would, instead of deadlocking on
	// the transaction's lock.
	txMu sync.Mutex
	mu   sync.Mutex
	st   *storeState

	// TxErrs queues errors returned by successive InTransaction calls
	// before fn runs. A nil entry lets that call through. Used to
	// simulate transient database failures.
	TxErrs []error
}

// NewMemoryStores creates empty in-memory execution stores.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{st: newStoreState()}
}

// Executions returns the execution repository view.
func (m *MemoryStores) Executions() repository.ExecutionRepository {
	return &memExecutions{m: m}
}

// Inputs returns the ready queue repository view.
func (m *MemoryStores) Inputs() repository.ExecutionInputRepository {
	return &memInputs{m: m}
}

// Outputs returns the result log repository view.
func (m *MemoryStores) Outputs() repository.ExecutionOutputRepository {
	return &memOutputs{m: m}
}

// InTransaction runs fn against a copy of the state and commits the
// copy when fn returns nil. Transactions are serialized, which models
// the row locks the postgres stores take: two ticks never interleave.
func (m *MemoryStores) InTransaction(ctx context.Context, fn func(stores repository.Stores) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	if len(m.TxErrs) > 0 {
		err := m.TxErrs[0]
		m.TxErrs = m.TxErrs[1:]
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}
	clone := m.st.clone()
	m.mu.Unlock()

	if err := fn(&txStores{st: clone}); err != nil {
		return err
	}

	m.mu.Lock()
	m.st = clone
	m.mu.Unlock()
	return nil
}

// InputCount returns the number of queue rows across all executions.
func (m *MemoryStores) InputCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.inputs)
}

var (
	_ repository.Stores     = (*MemoryStores)(nil)
	_ repository.UnitOfWork = (*MemoryStores)(nil)
)

// txStores binds the repository views to one transaction's state copy.
// The enclosing InTransaction holds the store mutex, so views inside a
// transaction operate lock free.
type txStores struct {
	st *storeState
}

func (t *txStores) Executions() repository.ExecutionRepository {
	return &memExecutions{st: t.st}
}

func (t *txStores) Inputs() repository.ExecutionInputRepository {
	return &memInputs{st: t.st}
}

func (t *txStores) Outputs() repository.ExecutionOutputRepository {
	return &memOutputs{st: t.st}
}

// storeState holds the three tables. seq preserves insertion order so
// rows created within the same clock tick still sort deterministically.
type storeState struct {
	executions map[model.ExecutionID]*model.Execution
	inputs     map[string]*model.ExecutionInput
	outputs    map[string]*model.ExecutionOutput
	seq        map[string]int64
	nextSeq    int64
}

func newStoreState() *storeState {
	return &storeState{
		executions: make(map[model.ExecutionID]*model.Execution),
		inputs:     make(map[string]*model.ExecutionInput),
		outputs:    make(map[string]*model.ExecutionOutput),
		seq:        make(map[string]int64),
	}
}

func (st *storeState) clone() *storeState {
	c := &storeState{
		executions: make(map[model.ExecutionID]*model.Execution, len(st.executions)),
		inputs:     make(map[string]*model.ExecutionInput, len(st.inputs)),
		outputs:    make(map[string]*model.ExecutionOutput, len(st.outputs)),
		seq:        make(map[string]int64, len(st.seq)),
		nextSeq:    st.nextSeq,
	}
	for id, e := range st.executions {
		c.executions[id] = cloneExecution(e)
	}
	for id, in := range st.inputs {
		cp := *in
		c.inputs[id] = &cp
	}
	for id, out := range st.outputs {
		cp := *out
		c.outputs[id] = &cp
	}
	for id, n := range st.seq {
		c.seq[id] = n
	}
	return c
}

func (st *storeState) assignSeq(id string) {
	st.nextSeq++
	st.seq[id] = st.nextSeq
}

// cloneExecution copies the aggregate so callers mutating what they
// read never touch committed state without an Update.
func cloneExecution(e *model.Execution) *model.Execution {
	return model.ReconstructExecution(
		e.ID(),
		e.WorkspaceID(),
		e.WorkflowID(),
		e.TriggerID(),
		e.TriggeredBy(),
		e.Status(),
		copyValueMap(e.TriggerData()),
		copyValueMap(e.Results()),
		copyTimePtr(e.StartedAt()),
		copyTimePtr(e.EndedAt()),
		e.CreatedAt(),
		e.UpdatedAt(),
	)
}

func copyValueMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// memExecutions implements repository.ExecutionRepository. Exactly one
// of m and st is set: m for the pool view, st for a transaction view.
type memExecutions struct {
	m  *MemoryStores
	st *storeState
}

func (r *memExecutions) state() (*storeState, func()) {
	if r.m != nil {
		r.m.mu.Lock()
		return r.m.st, r.m.mu.Unlock
	}
	return r.st, func() {}
}

func (r *memExecutions) Create(ctx context.Context, execution *model.Execution) error {
	st, done := r.state()
	defer done()
	st.executions[execution.ID()] = cloneExecution(execution)
	return nil
}

func (r *memExecutions) Update(ctx context.Context, execution *model.Execution) error {
	st, done := r.state()
	defer done()
	if _, ok := st.executions[execution.ID()]; !ok {
		return repository.ErrNotFound
	}
	st.executions[execution.ID()] = cloneExecution(execution)
	return nil
}

func (r *memExecutions) FindByID(ctx context.Context, id model.ExecutionID) (*model.Execution, error) {
	st, done := r.state()
	defer done()
	e, ok := st.executions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneExecution(e), nil
}

// FindByIDForUpdate behaves like FindByID. Serialized transactions
// stand in for the row lock.
func (r *memExecutions) FindByIDForUpdate(ctx context.Context, id model.ExecutionID) (*model.Execution, error) {
	return r.FindByID(ctx, id)
}

func (r *memExecutions) MarkRunning(ctx context.Context, ids []model.ExecutionID) error {
	st, done := r.state()
	defer done()
	for _, id := range ids {
		if e, ok := st.executions[id]; ok && e.Status() == model.ExecutionStatusPending {
			_ = e.Start()
		}
	}
	return nil
}

func (r *memExecutions) ListByWorkspace(ctx context.Context, workspaceID string, status model.ExecutionStatus, offset, limit int) ([]*model.Execution, error) {
	st, done := r.state()
	defer done()

	var matched []*model.Execution
	for _, e := range st.executions {
		if e.WorkspaceID() != workspaceID {
			continue
		}
		if status != "" && e.Status() != status {
			continue
		}
		matched = append(matched, e)
	}
	sortNewestFirst(matched)
	return clonePage(matched, offset, limit), nil
}

func (r *memExecutions) CountByWorkspace(ctx context.Context, workspaceID string, status model.ExecutionStatus) (int64, error) {
	st, done := r.state()
	defer done()

	var count int64
	for _, e := range st.executions {
		if e.WorkspaceID() != workspaceID {
			continue
		}
		if status != "" && e.Status() != status {
			continue
		}
		count++
	}
	return count, nil
}

func (r *memExecutions) ListByWorkflow(ctx context.Context, workflowID string, offset, limit int) ([]*model.Execution, error) {
	st, done := r.state()
	defer done()

	var matched []*model.Execution
	for _, e := range st.executions {
		if e.WorkflowID() == workflowID {
			matched = append(matched, e)
		}
	}
	sortNewestFirst(matched)
	return clonePage(matched, offset, limit), nil
}

func sortNewestFirst(executions []*model.Execution) {
	sort.SliceStable(executions, func(i, j int) bool {
		return startedAtOf(executions[i]).After(startedAtOf(executions[j]))
	})
}

func startedAtOf(e *model.Execution) time.Time {
	if e.StartedAt() != nil {
		return *e.StartedAt()
	}
	return time.Time{}
}

func clonePage(executions []*model.Execution, offset, limit int) []*model.Execution {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(executions) {
		return nil
	}
	end := len(executions)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := make([]*model.Execution, 0, end-offset)
	for _, e := range executions[offset:end] {
		page = append(page, cloneExecution(e))
	}
	return page
}

// memInputs implements repository.ExecutionInputRepository.
type memInputs struct {
	m  *MemoryStores
	st *storeState
}

func (r *memInputs) state() (*storeState, func()) {
	if r.m != nil {
		r.m.mu.Lock()
		return r.m.st, r.m.mu.Unlock
	}
	return r.st, func() {}
}

func (r *memInputs) CreateBatch(ctx context.Context, inputs []*model.ExecutionInput) error {
	st, done := r.state()
	defer done()
	for _, in := range inputs {
		cp := *in
		st.inputs[in.ID] = &cp
		st.assignSeq(in.ID)
	}
	return nil
}

func (r *memInputs) SelectReadyForDispatch(ctx context.Context, limit int) ([]*model.ExecutionInput, error) {
	st, done := r.state()
	defer done()

	var ready []*model.ExecutionInput
	for _, in := range st.inputs {
		if in.DependencyCount == 0 {
			ready = append(ready, in)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.WaitFactor != b.WaitFactor {
			return a.WaitFactor > b.WaitFactor
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return st.seq[a.ID] < st.seq[b.ID]
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	picked := make([]*model.ExecutionInput, 0, len(ready))
	for _, in := range ready {
		cp := *in
		picked = append(picked, &cp)
	}
	return picked, nil
}

func (r *memInputs) IncrementWaitFactorExcept(ctx context.Context, selectedIDs []string) (int64, error) {
	st, done := r.state()
	defer done()

	selected := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = true
	}

	var aged int64
	for _, in := range st.inputs {
		if in.DependencyCount == 0 && !selected[in.ID] {
			in.WaitFactor++
			aged++
		}
	}
	return aged, nil
}

func (r *memInputs) DecrementDependencies(ctx context.Context, executionID model.ExecutionID, nodeIDs []string) (int64, error) {
	st, done := r.state()
	defer done()

	targets := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		targets[id] = true
	}

	var touched int64
	for _, in := range st.inputs {
		if in.ExecutionID != executionID || !targets[in.NodeID] {
			continue
		}
		if in.DependencyCount > 0 {
			in.DependencyCount--
		}
		touched++
	}
	return touched, nil
}

func (r *memInputs) ListByExecutionID(ctx context.Context, executionID model.ExecutionID) ([]*model.ExecutionInput, error) {
	st, done := r.state()
	defer done()

	var rows []*model.ExecutionInput
	for _, in := range st.inputs {
		if in.ExecutionID == executionID {
			cp := *in
			rows = append(rows, &cp)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return st.seq[rows[i].ID] < st.seq[rows[j].ID]
	})
	return rows, nil
}

func (r *memInputs) CountByExecutionID(ctx context.Context, executionID model.ExecutionID) (int64, error) {
	st, done := r.state()
	defer done()

	var count int64
	for _, in := range st.inputs {
		if in.ExecutionID == executionID {
			count++
		}
	}
	return count, nil
}

func (r *memInputs) DeleteByIDs(ctx context.Context, ids []string) error {
	st, done := r.state()
	defer done()
	for _, id := range ids {
		delete(st.inputs, id)
	}
	return nil
}

func (r *memInputs) DeleteByExecutionID(ctx context.Context, executionID model.ExecutionID) error {
	st, done := r.state()
	defer done()
	for id, in := range st.inputs {
		if in.ExecutionID == executionID {
			delete(st.inputs, id)
		}
	}
	return nil
}

// memOutputs implements repository.ExecutionOutputRepository.
type memOutputs struct {
	m  *MemoryStores
	st *storeState
}

func (r *memOutputs) state() (*storeState, func()) {
	if r.m != nil {
		r.m.mu.Lock()
		return r.m.st, r.m.mu.Unlock
	}
	return r.st, func() {}
}

func (r *memOutputs) Create(ctx context.Context, output *model.ExecutionOutput) error {
	st, done := r.state()
	defer done()
	cp := *output
	st.outputs[output.ID] = &cp
	st.assignSeq(output.ID)
	return nil
}

func (r *memOutputs) ListByExecutionID(ctx context.Context, executionID model.ExecutionID) ([]*model.ExecutionOutput, error) {
	st, done := r.state()
	defer done()

	var rows []*model.ExecutionOutput
	for _, out := range st.outputs {
		if out.ExecutionID == executionID {
			cp := *out
			rows = append(rows, &cp)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return st.seq[rows[i].ID] < st.seq[rows[j].ID]
	})
	return rows, nil
}

func (r *memOutputs) FindByExecutionAndNode(ctx context.Context, executionID model.ExecutionID, nodeID string) (*model.ExecutionOutput, error) {
	rows, err := r.ListByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	for _, out := range rows {
		if out.NodeID == nodeID {
			return out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memOutputs) CountByExecutionID(ctx context.Context, executionID model.ExecutionID) (int64, error) {
	st, done := r.state()
	defer done()

	var count int64
	for _, out := range st.outputs {
		if out.ExecutionID == executionID {
			count++
		}
	}
	return count, nil
}

func (r *memOutputs) DeleteByExecutionID(ctx context.Context, executionID model.ExecutionID) error {
	st, done := r.state()
	defer done()
	for id, out := range st.outputs {
		if out.ExecutionID == executionID {
			delete(st.outputs, id)
		}
	}
	return nil
}
