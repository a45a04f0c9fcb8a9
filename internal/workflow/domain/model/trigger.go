package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// NewTriggerID creates a new prefixed trigger ID
func NewTriggerID() string {
	return "TRG-" + uuid.New().String()
}

var (
	// ErrRequiredInputMissing reports a required trigger input that is
	// absent from the incoming data and has no default.
	ErrRequiredInputMissing = errors.New("required trigger input missing")

	// ErrInputTypeMismatch reports a trigger input that fails its
	// declared type check.
	ErrInputTypeMismatch = errors.New("trigger input type mismatch")
)

// TriggerType represents how a trigger fires
type TriggerType string

const (
	TriggerTypeWebhook TriggerType = "webhook"
	TriggerTypeCron    TriggerType = "cron"
	TriggerTypeManual  TriggerType = "manual"
)

// MappingSpec declares one trigger input key. Value doubles as the
// default when the key is absent from the incoming data.
type MappingSpec struct {
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Value    interface{} `json:"value,omitempty"`
}

// Trigger starts executions of a workflow. Cron triggers carry an
// expression; webhook and manual triggers fire on demand.
type Trigger struct {
	ID             string
	WorkflowID     string
	WorkspaceID    string
	Type           TriggerType
	CronExpression string
	InputMapping   map[string]MappingSpec
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewTrigger creates a new trigger
func NewTrigger(workflowID, workspaceID string, triggerType TriggerType) (*Trigger, error) {
	if workflowID == "" || workspaceID == "" {
		return nil, errors.New("workflow ID and workspace ID are required")
	}
	switch triggerType {
	case TriggerTypeWebhook, TriggerTypeCron, TriggerTypeManual:
	default:
		return nil, fmt.Errorf("unknown trigger type: %s", triggerType)
	}

	now := time.Now()
	return &Trigger{
		ID:           NewTriggerID(),
		WorkflowID:   workflowID,
		WorkspaceID:  workspaceID,
		Type:         triggerType,
		InputMapping: make(map[string]MappingSpec),
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateInput checks the incoming data against the declared input
// mapping, fills defaults for absent keys, and returns the merged
// trigger data. Keys not declared in the mapping pass through.
func (t *Trigger) ValidateInput(input map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(input)+len(t.InputMapping))
	for k, v := range input {
		merged[k] = v
	}

	for key, spec := range t.InputMapping {
		value, present := merged[key]
		if !present {
			if spec.Value != nil {
				merged[key] = spec.Value
				continue
			}
			if spec.Required {
				return nil, fmt.Errorf("%w: %q", ErrRequiredInputMissing, key)
			}
			continue
		}

		if err := checkMappingType(key, value, spec.Type); err != nil {
			return nil, err
		}
	}

	return merged, nil
}

// checkMappingType verifies a trigger input value against a declared
// type from {str, int, float, bool, list, dict}. This is a strict
// check, not a coercion; coercion happens at parameter resolution.
func checkMappingType(key string, value interface{}, declared string) error {
	ok := false
	switch declared {
	case "str":
		_, ok = value.(string)
	case "int":
		switch v := value.(type) {
		case int, int32, int64:
			ok = true
		case float64:
			ok = v == math.Trunc(v)
		}
	case "float":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			ok = true
		}
	case "bool":
		_, ok = value.(bool)
	case "list":
		_, ok = value.([]interface{})
	case "dict":
		_, ok = value.(map[string]interface{})
	default:
		return fmt.Errorf("trigger input %q declares unknown type %q", key, declared)
	}

	if !ok {
		return fmt.Errorf("%w: %q must be of type %s, got %T", ErrInputTypeMismatch, key, declared, value)
	}
	return nil
}
