// Package service provides file storage business logic
package service

import (
	"context"
	"fmt"
	"io"

	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/storage/blob"
	"github.com/miniflow-io/miniflow/internal/storage/domain/model"
	"github.com/miniflow-io/miniflow/internal/storage/domain/repository"
)

// StorageService manages file records and their bytes. Metadata lives
// in the database, bytes in the configured blob store.
type StorageService struct {
	repo    repository.FileRepository
	store   blob.Store
	backend model.Backend
	log     logger.Logger
}

// NewStorageService creates a new storage service
func NewStorageService(repo repository.FileRepository, store blob.Store, backend model.Backend, log logger.Logger) *StorageService {
	return &StorageService{
		repo:    repo,
		store:   store,
		backend: backend,
		log:     log,
	}
}

// UploadFileCommand represents file upload input
type UploadFileCommand struct {
	WorkspaceID string
	Name        string
	Filename    string
	Reader      io.Reader
	MimeType    string
	Description string
	Tags        []string
	Metadata    map[string]interface{}
}

// UploadFile stores the bytes and creates the file record
func (s *StorageService) UploadFile(ctx context.Context, cmd UploadFileCommand) (*model.FileRecord, error) {
	data, err := io.ReadAll(cmd.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	fileID := model.NewFileID()
	storagePath, err := blob.UploadPath(cmd.WorkspaceID, fileID, cmd.Filename)
	if err != nil {
		return nil, err
	}

	if err := s.store.Write(ctx, storagePath, data); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	file, err := model.NewFileRecord(cmd.WorkspaceID, cmd.Name, cmd.Filename, storagePath, int64(len(data)))
	if err != nil {
		return nil, err
	}
	file.ID = fileID
	file.MimeType = cmd.MimeType
	file.Description = cmd.Description
	file.Backend = s.backend
	if cmd.Tags != nil {
		file.Tags = cmd.Tags
	}
	if cmd.Metadata != nil {
		file.FileMetadata = cmd.Metadata
	}

	if err := s.repo.Create(ctx, file); err != nil {
		if delErr := s.store.Delete(ctx, storagePath); delErr != nil {
			s.log.Warn("failed to clean up orphaned upload", "path", storagePath, "error", delErr)
		}
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	s.log.Info("file uploaded",
		"file_id", file.ID,
		"workspace_id", cmd.WorkspaceID,
		"name", cmd.Name,
		"size", file.FileSize,
	)

	return file, nil
}

// GetFile retrieves a file record by ID
func (s *StorageService) GetFile(ctx context.Context, id string) (*model.FileRecord, error) {
	return s.repo.FindByID(ctx, id)
}

// GetFilesByIDs bulk-loads file records. Missing IDs are omitted.
func (s *StorageService) GetFilesByIDs(ctx context.Context, ids []string) ([]*model.FileRecord, error) {
	return s.repo.FindByIDs(ctx, ids)
}

// ReadContent returns the raw bytes of a stored file
func (s *StorageService) ReadContent(ctx context.Context, file *model.FileRecord) ([]byte, error) {
	data, err := s.store.Read(ctx, file.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", file.ID, err)
	}
	return data, nil
}

// ListFiles lists file records for a workspace
func (s *StorageService) ListFiles(ctx context.Context, workspaceID string, offset, limit int) ([]*model.FileRecord, error) {
	return s.repo.ListByWorkspace(ctx, workspaceID, offset, limit)
}

// DeleteFile removes the bytes and soft deletes the record
func (s *StorageService) DeleteFile(ctx context.Context, id string) error {
	file, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, file.StoragePath); err != nil {
		return fmt.Errorf("failed to delete file bytes: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info("file deleted", "file_id", id, "workspace_id", file.WorkspaceID)
	return nil
}
