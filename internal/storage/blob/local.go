package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps bytes on the local filesystem under a single base
// directory. Every path is cleaned, joined under the base, and
// symlink-resolved before any read or write; anything that lands
// outside the base is rejected.
type LocalStore struct {
	base string
}

// NewLocalStore creates the base directory if needed and resolves it to
// an absolute, symlink-free path.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "resources"
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage base: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage base: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage base: %w", err)
	}

	return &LocalStore{base: resolved}, nil
}

// Base returns the resolved base directory.
func (s *LocalStore) Base() string {
	return s.base
}

// fullPath joins a storage-relative path under the base and verifies
// the result stays inside it.
func (s *LocalStore) fullPath(storagePath string) (string, error) {
	if err := validateRel(storagePath); err != nil {
		return "", err
	}

	full := filepath.Join(s.base, filepath.FromSlash(storagePath))
	if !s.within(full) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideBase, storagePath)
	}
	return full, nil
}

func (s *LocalStore) within(full string) bool {
	return full == s.base || strings.HasPrefix(full, s.base+string(filepath.Separator))
}

// Read returns the file bytes. Symlinks are resolved and the target
// must stay under the base directory.
func (s *LocalStore) Read(ctx context.Context, storagePath string) ([]byte, error) {
	full, err := s.fullPath(storagePath)
	if err != nil {
		return nil, err
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s does not exist", storagePath)
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", storagePath, err)
	}
	if !s.within(resolved) {
		return nil, fmt.Errorf("%w: %s", ErrPathOutsideBase, storagePath)
	}

	return os.ReadFile(resolved)
}

// Write stores the bytes, creating parent directories as needed.
func (s *LocalStore) Write(ctx context.Context, storagePath string, data []byte) error {
	full, err := s.fullPath(storagePath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", storagePath, err)
	}

	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", storagePath, err)
	}
	if !s.within(resolvedDir) {
		return fmt.Errorf("%w: %s", ErrPathOutsideBase, storagePath)
	}

	return os.WriteFile(filepath.Join(resolvedDir, filepath.Base(full)), data, 0o644)
}

// Delete removes the file; missing files are not an error.
func (s *LocalStore) Delete(ctx context.Context, storagePath string) error {
	full, err := s.fullPath(storagePath)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", storagePath, err)
	}
	return nil
}
