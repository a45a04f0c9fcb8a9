package testutil

import (
	"context"
	"sort"
	"sync"

	wfmodel "github.com/miniflow-io/miniflow/internal/workflow/domain/model"
	wfrepo "github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

// Catalog bundles in-memory workflow graph repositories. Tests seed it
// through the repository interfaces:
//
//	cat := testutil.NewCatalog()
//	cat.Workflows().Create(ctx, wf)
//	cat.Nodes().Create(ctx, node)
type Catalog struct {
	mu            sync.Mutex
	workflows     map[string]*wfmodel.Workflow
	nodes         map[string]*wfmodel.Node
	edges         map[string]*wfmodel.Edge
	triggers      map[string]*wfmodel.Trigger
	scripts       map[string]*wfmodel.Script
	customScripts map[string]*wfmodel.CustomScript
}

// NewCatalog creates an empty workflow catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		workflows:     make(map[string]*wfmodel.Workflow),
		nodes:         make(map[string]*wfmodel.Node),
		edges:         make(map[string]*wfmodel.Edge),
		triggers:      make(map[string]*wfmodel.Trigger),
		scripts:       make(map[string]*wfmodel.Script),
		customScripts: make(map[string]*wfmodel.CustomScript),
	}
}

// Workflows returns the workflow repository view.
func (c *Catalog) Workflows() wfrepo.WorkflowRepository { return &catalogWorkflows{c: c} }

// Nodes returns the node repository view.
func (c *Catalog) Nodes() wfrepo.NodeRepository { return &catalogNodes{c: c} }

// Edges returns the edge repository view.
func (c *Catalog) Edges() wfrepo.EdgeRepository { return &catalogEdges{c: c} }

// Triggers returns the trigger repository view.
func (c *Catalog) Triggers() wfrepo.TriggerRepository { return &catalogTriggers{c: c} }

// Scripts returns the script repository view.
func (c *Catalog) Scripts() wfrepo.ScriptRepository { return &catalogScripts{c: c} }

// CustomScripts returns the custom script repository view.
func (c *Catalog) CustomScripts() wfrepo.CustomScriptRepository {
	return &catalogCustomScripts{c: c}
}

// Graph returns the atomic graph-write repository view.
func (c *Catalog) Graph() wfrepo.GraphRepository { return &catalogGraph{c: c} }

type catalogWorkflows struct{ c *Catalog }

func (r *catalogWorkflows) Create(ctx context.Context, workflow *wfmodel.Workflow) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	cp := *workflow
	r.c.workflows[workflow.ID] = &cp
	return nil
}

func (r *catalogWorkflows) FindByID(ctx context.Context, id string) (*wfmodel.Workflow, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	wf, ok := r.c.workflows[id]
	if !ok {
		return nil, wfrepo.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (r *catalogWorkflows) ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*wfmodel.Workflow, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.Workflow
	for _, wf := range r.c.workflows {
		if wf.WorkspaceID == workspaceID {
			cp := *wf
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}

func (r *catalogWorkflows) Update(ctx context.Context, workflow *wfmodel.Workflow) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, ok := r.c.workflows[workflow.ID]; !ok {
		return wfrepo.ErrNotFound
	}
	cp := *workflow
	r.c.workflows[workflow.ID] = &cp
	return nil
}

func (r *catalogWorkflows) Delete(ctx context.Context, id string) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, ok := r.c.workflows[id]; !ok {
		return wfrepo.ErrNotFound
	}
	delete(r.c.workflows, id)
	return nil
}

type catalogNodes struct{ c *Catalog }

func (r *catalogNodes) Create(ctx context.Context, node *wfmodel.Node) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	cp := *node
	r.c.nodes[node.ID] = &cp
	return nil
}

func (r *catalogNodes) FindByID(ctx context.Context, id string) (*wfmodel.Node, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	node, ok := r.c.nodes[id]
	if !ok {
		return nil, wfrepo.ErrNotFound
	}
	cp := *node
	return &cp, nil
}

func (r *catalogNodes) FindByWorkflowID(ctx context.Context, workflowID string) ([]*wfmodel.Node, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.Node
	for _, node := range r.c.nodes {
		if node.WorkflowID == workflowID {
			cp := *node
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

func (r *catalogNodes) CountByWorkflowID(ctx context.Context, workflowID string) (int64, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var count int64
	for _, node := range r.c.nodes {
		if node.WorkflowID == workflowID {
			count++
		}
	}
	return count, nil
}

func (r *catalogNodes) Update(ctx context.Context, node *wfmodel.Node) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, ok := r.c.nodes[node.ID]; !ok {
		return wfrepo.ErrNotFound
	}
	cp := *node
	r.c.nodes[node.ID] = &cp
	return nil
}

func (r *catalogNodes) Delete(ctx context.Context, id string) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, ok := r.c.nodes[id]; !ok {
		return wfrepo.ErrNotFound
	}
	delete(r.c.nodes, id)
	return nil
}

type catalogEdges struct{ c *Catalog }

func (r *catalogEdges) Create(ctx context.Context, edge *wfmodel.Edge) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	cp := *edge
	r.c.edges[edge.ID] = &cp
	return nil
}

func (r *catalogEdges) FindByWorkflowID(ctx context.Context, workflowID string) ([]*wfmodel.Edge, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.Edge
	for _, edge := range r.c.edges {
		if edge.WorkflowID == workflowID {
			cp := *edge
			matched = append(matched, &cp)
		}
	}
	sortEdges(matched)
	return matched, nil
}

func (r *catalogEdges) FindByFromNodeID(ctx context.Context, workflowID, fromNodeID string) ([]*wfmodel.Edge, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.Edge
	for _, edge := range r.c.edges {
		if edge.WorkflowID == workflowID && edge.FromNodeID == fromNodeID {
			cp := *edge
			matched = append(matched, &cp)
		}
	}
	sortEdges(matched)
	return matched, nil
}

func (r *catalogEdges) Delete(ctx context.Context, id string) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, ok := r.c.edges[id]; !ok {
		return wfrepo.ErrNotFound
	}
	delete(r.c.edges, id)
	return nil
}

func sortEdges(edges []*wfmodel.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].ID < edges[j].ID
	})
}

type catalogGraph struct{ c *Catalog }

func (r *catalogGraph) CreateGraph(ctx context.Context, workflow *wfmodel.Workflow, nodes []*wfmodel.Node, edges []*wfmodel.Edge) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	cp := *workflow
	r.c.workflows[workflow.ID] = &cp
	for _, node := range nodes {
		n := *node
		r.c.nodes[node.ID] = &n
	}
	for _, edge := range edges {
		e := *edge
		r.c.edges[edge.ID] = &e
	}
	return nil
}

func (r *catalogGraph) ReplaceGraph(ctx context.Context, workflowID string, nodes []*wfmodel.Node, edges []*wfmodel.Edge) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if _, ok := r.c.workflows[workflowID]; !ok {
		return wfrepo.ErrNotFound
	}
	for id, node := range r.c.nodes {
		if node.WorkflowID == workflowID {
			delete(r.c.nodes, id)
		}
	}
	for id, edge := range r.c.edges {
		if edge.WorkflowID == workflowID {
			delete(r.c.edges, id)
		}
	}
	for _, node := range nodes {
		n := *node
		r.c.nodes[node.ID] = &n
	}
	for _, edge := range edges {
		e := *edge
		r.c.edges[edge.ID] = &e
	}
	return nil
}

type catalogTriggers struct{ c *Catalog }

func (r *catalogTriggers) Create(ctx context.Context, trigger *wfmodel.Trigger) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	cp := *trigger
	r.c.triggers[trigger.ID] = &cp
	return nil
}

func (r *catalogTriggers) FindByID(ctx context.Context, id string) (*wfmodel.Trigger, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	trigger, ok := r.c.triggers[id]
	if !ok {
		return nil, wfrepo.ErrNotFound
	}
	cp := *trigger
	return &cp, nil
}

func (r *catalogTriggers) ListByWorkflow(ctx context.Context, workflowID string) ([]*wfmodel.Trigger, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.Trigger
	for _, trigger := range r.c.triggers {
		if trigger.WorkflowID == workflowID {
			cp := *trigger
			matched = append(matched, &cp)
		}
	}
	sortTriggers(matched)
	return matched, nil
}

func (r *catalogTriggers) ListEnabledByType(ctx context.Context, triggerType wfmodel.TriggerType) ([]*wfmodel.Trigger, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.Trigger
	for _, trigger := range r.c.triggers {
		if trigger.Type == triggerType && trigger.Enabled {
			cp := *trigger
			matched = append(matched, &cp)
		}
	}
	sortTriggers(matched)
	return matched, nil
}

func (r *catalogTriggers) Update(ctx context.Context, trigger *wfmodel.Trigger) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, ok := r.c.triggers[trigger.ID]; !ok {
		return wfrepo.ErrNotFound
	}
	cp := *trigger
	r.c.triggers[trigger.ID] = &cp
	return nil
}

func (r *catalogTriggers) Delete(ctx context.Context, id string) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, ok := r.c.triggers[id]; !ok {
		return wfrepo.ErrNotFound
	}
	delete(r.c.triggers, id)
	return nil
}

func sortTriggers(triggers []*wfmodel.Trigger) {
	sort.SliceStable(triggers, func(i, j int) bool {
		if !triggers[i].CreatedAt.Equal(triggers[j].CreatedAt) {
			return triggers[i].CreatedAt.Before(triggers[j].CreatedAt)
		}
		return triggers[i].ID < triggers[j].ID
	})
}

type catalogScripts struct{ c *Catalog }

func (r *catalogScripts) Create(ctx context.Context, script *wfmodel.Script) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	cp := *script
	r.c.scripts[script.ID] = &cp
	return nil
}

func (r *catalogScripts) FindByID(ctx context.Context, id string) (*wfmodel.Script, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	script, ok := r.c.scripts[id]
	if !ok {
		return nil, wfrepo.ErrNotFound
	}
	cp := *script
	return &cp, nil
}

// FindByIDs returns the scripts that exist; missing IDs are silently
// absent, as with a SQL IN list.
func (r *catalogScripts) FindByIDs(ctx context.Context, ids []string) ([]*wfmodel.Script, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.Script
	for _, id := range ids {
		if script, ok := r.c.scripts[id]; ok {
			cp := *script
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

func (r *catalogScripts) List(ctx context.Context, offset, limit int) ([]*wfmodel.Script, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	matched := make([]*wfmodel.Script, 0, len(r.c.scripts))
	for _, script := range r.c.scripts {
		cp := *script
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Name < matched[j].Name
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}

type catalogCustomScripts struct{ c *Catalog }

func (r *catalogCustomScripts) Create(ctx context.Context, script *wfmodel.CustomScript) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	cp := *script
	r.c.customScripts[script.ID] = &cp
	return nil
}

func (r *catalogCustomScripts) FindByID(ctx context.Context, id string) (*wfmodel.CustomScript, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	script, ok := r.c.customScripts[id]
	if !ok {
		return nil, wfrepo.ErrNotFound
	}
	cp := *script
	return &cp, nil
}

func (r *catalogCustomScripts) FindByIDs(ctx context.Context, ids []string) ([]*wfmodel.CustomScript, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.CustomScript
	for _, id := range ids {
		if script, ok := r.c.customScripts[id]; ok {
			cp := *script
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

func (r *catalogCustomScripts) ListByWorkspace(ctx context.Context, workspaceID string) ([]*wfmodel.CustomScript, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var matched []*wfmodel.CustomScript
	for _, script := range r.c.customScripts {
		if script.WorkspaceID == workspaceID {
			cp := *script
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Name < matched[j].Name
	})
	return matched, nil
}

var (
	_ wfrepo.WorkflowRepository     = (*catalogWorkflows)(nil)
	_ wfrepo.NodeRepository         = (*catalogNodes)(nil)
	_ wfrepo.EdgeRepository         = (*catalogEdges)(nil)
	_ wfrepo.TriggerRepository      = (*catalogTriggers)(nil)
	_ wfrepo.ScriptRepository       = (*catalogScripts)(nil)
	_ wfrepo.CustomScriptRepository = (*catalogCustomScripts)(nil)
)
