// Package model defines file storage domain models
package model

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// NewFileID creates a new prefixed file ID
func NewFileID() string {
	return "FLE-" + uuid.New().String()
}

// Backend identifies where a file's bytes live
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
)

// FileRecord is a workspace-scoped stored file referenceable from node
// parameters as ${file:<id>.<path>}. The special path "content" reads
// the bytes; every other path addresses the metadata record.
type FileRecord struct {
	ID               string
	WorkspaceID      string
	Name             string
	OriginalFilename string
	StoragePath      string
	FileSize         int64
	MimeType         string
	FileExtension    string
	Description      string
	Tags             []string
	FileMetadata     map[string]interface{}
	Backend          Backend
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewFileRecord creates a new file record
func NewFileRecord(workspaceID, name, originalFilename, storagePath string, size int64) (*FileRecord, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace ID is required")
	}
	if name == "" || storagePath == "" {
		return nil, errors.New("name and storage path are required")
	}
	if size < 0 {
		return nil, errors.New("file size must be non-negative")
	}

	now := time.Now()
	return &FileRecord{
		ID:               NewFileID(),
		WorkspaceID:      workspaceID,
		Name:             name,
		OriginalFilename: originalFilename,
		StoragePath:      storagePath,
		FileSize:         size,
		FileExtension:    filepath.Ext(originalFilename),
		Tags:             []string{},
		FileMetadata:     make(map[string]interface{}),
		Backend:          BackendLocal,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// MetadataRecord returns the resolver-visible view of the file, the
// shape addressed by ${file:<id>.<path>} references other than content.
func (f *FileRecord) MetadataRecord() map[string]interface{} {
	tags := make([]interface{}, len(f.Tags))
	for i, tag := range f.Tags {
		tags[i] = tag
	}

	return map[string]interface{}{
		"name":              f.Name,
		"original_filename": f.OriginalFilename,
		"file_size":         f.FileSize,
		"mime_type":         f.MimeType,
		"file_extension":    f.FileExtension,
		"description":       f.Description,
		"tags":              tags,
		"file_metadata":     f.FileMetadata,
	}
}
