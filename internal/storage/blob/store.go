// Package blob provides byte storage backends for file records and
// workflow scripts, plus the on-disk layout of the script tree.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrPathOutsideBase is returned when a storage path escapes the base
// directory after cleaning and symlink resolution.
var ErrPathOutsideBase = errors.New("path escapes storage base")

// Store reads and writes raw file bytes by storage-relative path.
type Store interface {
	Read(ctx context.Context, storagePath string) ([]byte, error)
	Write(ctx context.Context, storagePath string, data []byte) error
	Delete(ctx context.Context, storagePath string) error
}

const (
	globalScriptsDir = "global_scripts"
	customScriptsDir = "custom_scripts"
	uploadsDir       = "uploads"
)

// validateRel rejects empty, absolute, and traversing relative paths.
func validateRel(rel string) error {
	if rel == "" {
		return fmt.Errorf("%w: empty path", ErrPathOutsideBase)
	}
	if strings.HasPrefix(rel, "/") {
		return fmt.Errorf("%w: %s", ErrPathOutsideBase, rel)
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %s", ErrPathOutsideBase, rel)
	}
	return nil
}

// GlobalScriptPath returns the storage-relative path of a shared script
func GlobalScriptPath(rel string) (string, error) {
	if err := validateRel(rel); err != nil {
		return "", err
	}
	return path.Join(globalScriptsDir, rel), nil
}

// CustomScriptPath returns the storage-relative path of a
// workspace-scoped script
func CustomScriptPath(workspaceID, rel string) (string, error) {
	if workspaceID == "" {
		return "", errors.New("workspace ID is required")
	}
	if err := validateRel(rel); err != nil {
		return "", err
	}
	return path.Join(customScriptsDir, workspaceID, rel), nil
}

// UploadPath returns the storage-relative path of an uploaded file
func UploadPath(workspaceID, fileID, filename string) (string, error) {
	if err := validateRel(filename); err != nil {
		return "", err
	}
	return path.Join(uploadsDir, workspaceID, fileID+path.Ext(filename)), nil
}
