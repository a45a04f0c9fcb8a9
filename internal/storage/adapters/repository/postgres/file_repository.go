// Package postgres provides PostgreSQL repository implementations for file records
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/storage/domain/model"
	"github.com/miniflow-io/miniflow/internal/storage/domain/repository"
)

// FileRepository implements file record persistence
type FileRepository struct {
	q database.Querier
}

// NewFileRepository creates a new file repository
func NewFileRepository(q database.Querier) *FileRepository {
	return &FileRepository{q: q}
}

const fileColumns = `id, workspace_id, name, original_filename, storage_path, file_size, mime_type, file_extension, description, tags, file_metadata, backend, created_at, updated_at`

func scanFile(s interface{ Scan(...interface{}) error }) (*model.FileRecord, error) {
	var f model.FileRecord
	var mimeType, description sql.NullString
	var metadata []byte

	err := s.Scan(
		&f.ID,
		&f.WorkspaceID,
		&f.Name,
		&f.OriginalFilename,
		&f.StoragePath,
		&f.FileSize,
		&mimeType,
		&f.FileExtension,
		&description,
		pq.Array(&f.Tags),
		&metadata,
		&f.Backend,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.MimeType = mimeType.String
	f.Description = description.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &f.FileMetadata); err != nil {
			return nil, err
		}
	}
	if f.FileMetadata == nil {
		f.FileMetadata = make(map[string]interface{})
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}

	return &f, nil
}

// Create saves a new file record
func (r *FileRepository) Create(ctx context.Context, file *model.FileRecord) error {
	metadata, err := json.Marshal(file.FileMetadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO files (id, workspace_id, name, original_filename, storage_path, file_size, mime_type, file_extension, description, tags, file_metadata, backend, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.q.ExecContext(ctx, query,
		file.ID,
		file.WorkspaceID,
		file.Name,
		file.OriginalFilename,
		file.StoragePath,
		file.FileSize,
		file.MimeType,
		file.FileExtension,
		file.Description,
		pq.Array(file.Tags),
		metadata,
		file.Backend,
		file.CreatedAt,
		file.UpdatedAt,
	)

	return err
}

// FindByID finds a file record by ID
func (r *FileRepository) FindByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND deleted_at IS NULL`

	f, err := scanFile(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FindByIDs bulk-loads file records by ID
func (r *FileRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.FileRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ANY($1) AND deleted_at IS NULL`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

// ListByWorkspace lists file records for a workspace
func (r *FileRepository) ListByWorkspace(ctx context.Context, workspaceID string, offset, limit int) ([]*model.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.QueryContext(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

// Delete soft deletes a file record
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE files SET deleted_at = $1 WHERE id = $2`
	_, err := r.q.ExecContext(ctx, query, time.Now(), id)
	return err
}
