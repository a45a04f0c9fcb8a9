package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewNodeID creates a new prefixed node ID
func NewNodeID() string {
	return "NOD-" + uuid.New().String()
}

// ParamSpec declares one node input parameter. Value may be a literal
// or a ${kind:body} reference string resolved at dispatch time.
type ParamSpec struct {
	Type         string      `json:"type"`
	Value        interface{} `json:"value"`
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"default_value,omitempty"`
}

// EffectiveValue returns Value, falling back to DefaultValue.
func (p ParamSpec) EffectiveValue() interface{} {
	if p.Value != nil {
		return p.Value
	}
	return p.DefaultValue
}

// Node is one unit of work in a workflow, bound to exactly one
// executable: a shared script or a workspace-scoped custom script.
type Node struct {
	ID             string
	WorkflowID     string
	Name           string
	ScriptID       *string
	CustomScriptID *string
	InputParams    map[string]ParamSpec
	MaxRetries     int
	TimeoutSeconds int
	Priority       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewNode creates a new node bound to one executable. Exactly one of
// scriptID and customScriptID must be non-empty.
func NewNode(workflowID, name, scriptID, customScriptID string) (*Node, error) {
	if workflowID == "" {
		return nil, errors.New("workflow ID is required")
	}
	if name == "" {
		return nil, errors.New("node name is required")
	}
	if (scriptID == "") == (customScriptID == "") {
		return nil, errors.New("node requires exactly one of script_id and custom_script_id")
	}

	now := time.Now()
	node := &Node{
		ID:          NewNodeID(),
		WorkflowID:  workflowID,
		Name:        name,
		InputParams: make(map[string]ParamSpec),
		MaxRetries:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if scriptID != "" {
		node.ScriptID = &scriptID
	}
	if customScriptID != "" {
		node.CustomScriptID = &customScriptID
	}

	return node, nil
}

// Validate checks the executable binding and parameter declarations.
func (n *Node) Validate() error {
	hasScript := n.ScriptID != nil && *n.ScriptID != ""
	hasCustom := n.CustomScriptID != nil && *n.CustomScriptID != ""
	if hasScript == hasCustom {
		return fmt.Errorf("node %s requires exactly one of script_id and custom_script_id", n.ID)
	}

	for name, spec := range n.InputParams {
		if spec.Type == "" {
			return fmt.Errorf("parameter %s of node %s has no type", name, n.ID)
		}
		if spec.Required && spec.Value == nil && spec.DefaultValue == nil {
			return fmt.Errorf("required parameter %s of node %s has neither value nor default", name, n.ID)
		}
	}

	return nil
}

// Executable returns the bound executable ID and whether it is a
// workspace-scoped custom script.
func (n *Node) Executable() (id string, custom bool) {
	if n.CustomScriptID != nil && *n.CustomScriptID != "" {
		return *n.CustomScriptID, true
	}
	if n.ScriptID != nil {
		return *n.ScriptID, false
	}
	return "", false
}
