package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/model"
	"github.com/miniflow-io/miniflow/internal/workflow/domain/repository"
)

const scriptColumns = "id, name, description, file_path, input_schema, output_schema, created_at, updated_at"

// ScriptRepository implements the global script library for PostgreSQL
type ScriptRepository struct {
	q database.Querier
}

// NewScriptRepository creates a new PostgreSQL script repository
func NewScriptRepository(q database.Querier) *ScriptRepository {
	return &ScriptRepository{q: q}
}

// Create saves a new script entry
func (r *ScriptRepository) Create(ctx context.Context, script *model.Script) error {
	inputSchema, outputSchema, err := marshalSchemas(script.InputSchema, script.OutputSchema)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scripts (` + scriptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.q.ExecContext(ctx, query,
		script.ID,
		script.Name,
		nullString(script.Description),
		script.FilePath,
		inputSchema,
		outputSchema,
		script.CreatedAt,
		script.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert script: %w", err)
	}
	return nil
}

// FindByID finds a script by ID
func (r *ScriptRepository) FindByID(ctx context.Context, id string) (*model.Script, error) {
	query := `
		SELECT ` + scriptColumns + `
		FROM scripts
		WHERE id = $1
	`

	script, err := scanScript(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find script: %w", err)
	}
	return script, nil
}

// FindByIDs bulk-loads scripts by ID
func (r *ScriptRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.Script, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + scriptColumns + `
		FROM scripts
		WHERE id = ANY($1)
	`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*model.Script
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// List lists scripts with pagination
func (r *ScriptRepository) List(ctx context.Context, offset, limit int) ([]*model.Script, error) {
	query := `
		SELECT ` + scriptColumns + `
		FROM scripts
		ORDER BY name ASC
		OFFSET $1 LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*model.Script
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

func scanScript(s interface{ Scan(...interface{}) error }) (*model.Script, error) {
	var (
		script       model.Script
		description  sql.NullString
		inputSchema  []byte
		outputSchema []byte
	)
	if err := s.Scan(
		&script.ID,
		&script.Name,
		&description,
		&script.FilePath,
		&inputSchema,
		&outputSchema,
		&script.CreatedAt,
		&script.UpdatedAt,
	); err != nil {
		return nil, err
	}
	script.Description = description.String
	if err := unmarshalSchemas(inputSchema, outputSchema, &script.InputSchema, &script.OutputSchema); err != nil {
		return nil, err
	}
	return &script, nil
}

const customScriptColumns = "id, workspace_id, name, description, file_path, input_schema, output_schema, created_at, updated_at"

// CustomScriptRepository implements workspace script persistence for PostgreSQL
type CustomScriptRepository struct {
	q database.Querier
}

// NewCustomScriptRepository creates a new PostgreSQL custom script repository
func NewCustomScriptRepository(q database.Querier) *CustomScriptRepository {
	return &CustomScriptRepository{q: q}
}

// Create saves a new custom script entry
func (r *CustomScriptRepository) Create(ctx context.Context, script *model.CustomScript) error {
	inputSchema, outputSchema, err := marshalSchemas(script.InputSchema, script.OutputSchema)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO custom_scripts (` + customScriptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.q.ExecContext(ctx, query,
		script.ID,
		script.WorkspaceID,
		script.Name,
		nullString(script.Description),
		script.FilePath,
		inputSchema,
		outputSchema,
		script.CreatedAt,
		script.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert custom script: %w", err)
	}
	return nil
}

// FindByID finds a custom script by ID
func (r *CustomScriptRepository) FindByID(ctx context.Context, id string) (*model.CustomScript, error) {
	query := `
		SELECT ` + customScriptColumns + `
		FROM custom_scripts
		WHERE id = $1
	`

	script, err := scanCustomScript(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find custom script: %w", err)
	}
	return script, nil
}

// FindByIDs bulk-loads custom scripts by ID
func (r *CustomScriptRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.CustomScript, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + customScriptColumns + `
		FROM custom_scripts
		WHERE id = ANY($1)
	`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load custom scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*model.CustomScript
	for rows.Next() {
		script, err := scanCustomScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom script: %w", err)
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// ListByWorkspace lists the custom scripts of a workspace
func (r *CustomScriptRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.CustomScript, error) {
	query := `
		SELECT ` + customScriptColumns + `
		FROM custom_scripts
		WHERE workspace_id = $1
		ORDER BY name ASC
	`

	rows, err := r.q.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*model.CustomScript
	for rows.Next() {
		script, err := scanCustomScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom script: %w", err)
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

func scanCustomScript(s interface{ Scan(...interface{}) error }) (*model.CustomScript, error) {
	var (
		script       model.CustomScript
		description  sql.NullString
		inputSchema  []byte
		outputSchema []byte
	)
	if err := s.Scan(
		&script.ID,
		&script.WorkspaceID,
		&script.Name,
		&description,
		&script.FilePath,
		&inputSchema,
		&outputSchema,
		&script.CreatedAt,
		&script.UpdatedAt,
	); err != nil {
		return nil, err
	}
	script.Description = description.String
	if err := unmarshalSchemas(inputSchema, outputSchema, &script.InputSchema, &script.OutputSchema); err != nil {
		return nil, err
	}
	return &script, nil
}

func marshalSchemas(input, output map[string]interface{}) ([]byte, []byte, error) {
	inputSchema, err := json.Marshal(input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize input schema: %w", err)
	}
	outputSchema, err := json.Marshal(output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize output schema: %w", err)
	}
	return inputSchema, outputSchema, nil
}

func unmarshalSchemas(inputRaw, outputRaw []byte, input, output *map[string]interface{}) error {
	if len(inputRaw) > 0 {
		if err := json.Unmarshal(inputRaw, input); err != nil {
			return fmt.Errorf("failed to parse input schema: %w", err)
		}
	}
	if len(outputRaw) > 0 {
		if err := json.Unmarshal(outputRaw, output); err != nil {
			return fmt.Errorf("failed to parse output schema: %w", err)
		}
	}
	return nil
}
