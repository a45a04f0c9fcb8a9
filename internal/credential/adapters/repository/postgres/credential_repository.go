// Package postgres provides PostgreSQL repository implementations for credentials
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/miniflow-io/miniflow/internal/credential/domain/model"
	"github.com/miniflow-io/miniflow/internal/credential/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/database"
)

// CredentialRepository implements credential persistence
type CredentialRepository struct {
	q database.Querier
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(q database.Querier) *CredentialRepository {
	return &CredentialRepository{q: q}
}

type credentialRow struct {
	id          string
	workspaceID string
	name        string
	credType    string
	data        string
	expiresAt   sql.NullTime
	lastUsedAt  sql.NullTime
	createdAt   time.Time
	updatedAt   time.Time
}

func (row *credentialRow) toDomain() *model.Credential {
	cred := &model.Credential{
		ID:          row.id,
		WorkspaceID: row.workspaceID,
		Name:        row.name,
		Type:        model.CredentialType(row.credType),
		Data:        map[string]interface{}{"encrypted": row.data},
		CreatedAt:   row.createdAt,
		UpdatedAt:   row.updatedAt,
	}
	if row.expiresAt.Valid {
		cred.ExpiresAt = &row.expiresAt.Time
	}
	if row.lastUsedAt.Valid {
		cred.LastUsedAt = &row.lastUsedAt.Time
	}
	return cred
}

func scanCredential(s interface{ Scan(...interface{}) error }) (*model.Credential, error) {
	var row credentialRow
	err := s.Scan(
		&row.id,
		&row.workspaceID,
		&row.name,
		&row.credType,
		&row.data,
		&row.expiresAt,
		&row.lastUsedAt,
		&row.createdAt,
		&row.updatedAt,
	)
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

const credentialColumns = `id, workspace_id, name, type, data, expires_at, last_used_at, created_at, updated_at`

// Create saves a new credential with an encrypted payload
func (r *CredentialRepository) Create(ctx context.Context, credential *model.Credential, encryptedData string) error {
	query := `
		INSERT INTO credentials (id, workspace_id, name, type, data, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var expiresAt sql.NullTime
	if credential.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *credential.ExpiresAt, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		credential.ID,
		credential.WorkspaceID,
		credential.Name,
		credential.Type,
		encryptedData,
		expiresAt,
		credential.CreatedAt,
		credential.UpdatedAt,
	)

	return err
}

// FindByID finds a credential by ID
func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1 AND deleted_at IS NULL`

	cred, err := scanCredential(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// FindByIDs bulk-loads credentials by ID
func (r *CredentialRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.Credential, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ANY($1) AND deleted_at IS NULL`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var credentials []*model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, cred)
	}

	return credentials, rows.Err()
}

// ListByWorkspace lists credentials for a workspace
func (r *CredentialRepository) ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.QueryContext(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var credentials []*model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, cred)
	}

	return credentials, rows.Err()
}

// UpdateData replaces the encrypted payload
func (r *CredentialRepository) UpdateData(ctx context.Context, id, encryptedData string) error {
	query := `UPDATE credentials SET data = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	_, err := r.q.ExecContext(ctx, query, encryptedData, time.Now(), id)
	return err
}

// TouchLastUsed records resolution-time usage
func (r *CredentialRepository) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE credentials SET last_used_at = $1 WHERE id = $2`
	_, err := r.q.ExecContext(ctx, query, time.Now(), id)
	return err
}

// Delete soft deletes a credential
func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE credentials SET deleted_at = $1 WHERE id = $2`
	_, err := r.q.ExecContext(ctx, query, time.Now(), id)
	return err
}
