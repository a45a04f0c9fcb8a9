// Package postgres provides PostgreSQL repository implementations for database connections
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/miniflow-io/miniflow/internal/connection/domain/model"
	"github.com/miniflow-io/miniflow/internal/connection/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/database"
)

// ConnectionRepository implements database connection persistence
type ConnectionRepository struct {
	q database.Querier
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(q database.Querier) *ConnectionRepository {
	return &ConnectionRepository{q: q}
}

const connectionColumns = `id, workspace_id, name, engine, host, port, username, password, database_name, ssl_enabled, additional_params, created_at, updated_at`

func scanConnection(s interface{ Scan(...interface{}) error }) (*model.DatabaseConnection, error) {
	var conn model.DatabaseConnection
	var params []byte

	err := s.Scan(
		&conn.ID,
		&conn.WorkspaceID,
		&conn.Name,
		&conn.Engine,
		&conn.Host,
		&conn.Port,
		&conn.Username,
		&conn.Password,
		&conn.DatabaseName,
		&conn.SSLEnabled,
		&params,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &conn.AdditionalParams); err != nil {
			return nil, err
		}
	}
	if conn.AdditionalParams == nil {
		conn.AdditionalParams = make(map[string]string)
	}

	return &conn, nil
}

// Create saves a new connection
func (r *ConnectionRepository) Create(ctx context.Context, conn *model.DatabaseConnection) error {
	params, err := json.Marshal(conn.AdditionalParams)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO database_connections (id, workspace_id, name, engine, host, port, username, password, database_name, ssl_enabled, additional_params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.q.ExecContext(ctx, query,
		conn.ID,
		conn.WorkspaceID,
		conn.Name,
		conn.Engine,
		conn.Host,
		conn.Port,
		conn.Username,
		conn.Password,
		conn.DatabaseName,
		conn.SSLEnabled,
		params,
		conn.CreatedAt,
		conn.UpdatedAt,
	)

	return err
}

// FindByID finds a connection by ID
func (r *ConnectionRepository) FindByID(ctx context.Context, id string) (*model.DatabaseConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM database_connections WHERE id = $1 AND deleted_at IS NULL`

	conn, err := scanConnection(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FindByIDs bulk-loads connections by ID
func (r *ConnectionRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.DatabaseConnection, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + connectionColumns + ` FROM database_connections WHERE id = ANY($1) AND deleted_at IS NULL`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*model.DatabaseConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}

	return connections, rows.Err()
}

// ListByWorkspace lists connections for a workspace
func (r *ConnectionRepository) ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.DatabaseConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM database_connections
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.QueryContext(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*model.DatabaseConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}

	return connections, rows.Err()
}

// Update updates a connection
func (r *ConnectionRepository) Update(ctx context.Context, conn *model.DatabaseConnection) error {
	params, err := json.Marshal(conn.AdditionalParams)
	if err != nil {
		return err
	}

	query := `
		UPDATE database_connections
		SET name = $1, engine = $2, host = $3, port = $4, username = $5, password = $6,
		    database_name = $7, ssl_enabled = $8, additional_params = $9, updated_at = $10
		WHERE id = $11 AND deleted_at IS NULL
	`

	_, err = r.q.ExecContext(ctx, query,
		conn.Name,
		conn.Engine,
		conn.Host,
		conn.Port,
		conn.Username,
		conn.Password,
		conn.DatabaseName,
		conn.SSLEnabled,
		params,
		time.Now(),
		conn.ID,
	)

	return err
}

// Delete soft deletes a connection
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE database_connections SET deleted_at = $1 WHERE id = $2`
	_, err := r.q.ExecContext(ctx, query, time.Now(), id)
	return err
}
