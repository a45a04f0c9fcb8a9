package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/model"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

const triggerColumns = "id, workflow_id, workspace_id, type, cron_expression, input_mapping, enabled, created_at, updated_at"

// TriggerRepository implements the trigger repository interface for PostgreSQL
type TriggerRepository struct {
	q database.Querier
}

// NewTriggerRepository creates a new PostgreSQL trigger repository
func NewTriggerRepository(q database.Querier) *TriggerRepository {
	return &TriggerRepository{q: q}
}

// Create saves a new trigger
func (r *TriggerRepository) Create(ctx context.Context, trigger *model.Trigger) error {
	mapping, err := json.Marshal(trigger.InputMapping)
	if err != nil {
		return fmt.Errorf("failed to serialize input mapping: %w", err)
	}

	query := `
		INSERT INTO triggers (` + triggerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.q.ExecContext(ctx, query,
		trigger.ID,
		trigger.WorkflowID,
		trigger.WorkspaceID,
		string(trigger.Type),
		nullString(trigger.CronExpression),
		mapping,
		trigger.Enabled,
		trigger.CreatedAt,
		trigger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trigger: %w", err)
	}
	return nil
}

// FindByID finds a trigger by ID
func (r *TriggerRepository) FindByID(ctx context.Context, id string) (*model.Trigger, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM triggers
		WHERE id = $1
	`

	trigger, err := scanTrigger(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find trigger: %w", err)
	}
	return trigger, nil
}

// ListByWorkflow lists the triggers of a workflow
func (r *TriggerRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*model.Trigger, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM triggers
		WHERE workflow_id = $1
		ORDER BY created_at ASC
	`
	return r.queryTriggers(ctx, query, workflowID)
}

// ListEnabledByType lists enabled triggers of one type across workspaces
func (r *TriggerRepository) ListEnabledByType(ctx context.Context, triggerType model.TriggerType) ([]*model.Trigger, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM triggers
		WHERE type = $1 AND enabled = TRUE
		ORDER BY created_at ASC
	`
	return r.queryTriggers(ctx, query, string(triggerType))
}

// Update updates an existing trigger
func (r *TriggerRepository) Update(ctx context.Context, trigger *model.Trigger) error {
	mapping, err := json.Marshal(trigger.InputMapping)
	if err != nil {
		return fmt.Errorf("failed to serialize input mapping: %w", err)
	}

	query := `
		UPDATE triggers
		SET cron_expression = $2, input_mapping = $3, enabled = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		trigger.ID,
		nullString(trigger.CronExpression),
		mapping,
		trigger.Enabled,
		trigger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update trigger: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a trigger
func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TriggerRepository) queryTriggers(ctx context.Context, query string, arg interface{}) ([]*model.Trigger, error) {
	rows, err := r.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*model.Trigger
	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, trigger)
	}
	return triggers, rows.Err()
}

func scanTrigger(s interface{ Scan(...interface{}) error }) (*model.Trigger, error) {
	var (
		trigger model.Trigger
		cron    sql.NullString
		mapping []byte
		kind    string
	)
	if err := s.Scan(
		&trigger.ID,
		&trigger.WorkflowID,
		&trigger.WorkspaceID,
		&kind,
		&cron,
		&mapping,
		&trigger.Enabled,
		&trigger.CreatedAt,
		&trigger.UpdatedAt,
	); err != nil {
		return nil, err
	}
	trigger.Type = model.TriggerType(kind)
	trigger.CronExpression = cron.String
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &trigger.InputMapping); err != nil {
			return nil, fmt.Errorf("failed to parse input mapping: %w", err)
		}
	}
	if trigger.InputMapping == nil {
		trigger.InputMapping = make(map[string]model.MappingSpec)
	}
	return &trigger, nil
}
