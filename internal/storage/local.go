package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wadaphaq/oasis-api-tool/internal/util"
)

// LocalStore writes archives to a directory on the local filesystem.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	// Ensure base directory exists
	if err := util.EnsureDir(baseDir); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{baseDir: baseDir}, nil
}

// Dir returns the base directory.
func (s *LocalStore) Dir() string {
	return s.baseDir
}

// Put writes data to baseDir/name atomically using temp file + rename.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.baseDir, name)
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// URI returns the canonical URI for the given name.
func (s *LocalStore) URI(name string) string {
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, name))
	if err != nil {
		absPath = filepath.Join(s.baseDir, name)
	}
	return "file://" + filepath.ToSlash(absPath)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

// WriteFileAtomic writes data next to path and renames it into place, so
// readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := util.EnsureDir(dir); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}
