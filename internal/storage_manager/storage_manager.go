// Package storage_manager provides the file storage abstraction used by the
// file-backed memory store. It supports local filesystem and S3 backends.
package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileProvider defines the interface for file storage operations.
// Implementations can support local filesystem, S3, or other storage backends.
type FileProvider interface {
	// Read reads the entire content of a file
	Read(ctx context.Context, path string) ([]byte, error)

	// Write replaces the content of a file atomically, creating it if it
	// doesn't exist
	Write(ctx context.Context, path string, data []byte) error

	// Append appends data to a file, creating it if it doesn't exist.
	// Callers are responsible for serializing concurrent appends to the
	// same path.
	Append(ctx context.Context, path string, data []byte) error

	// Exists checks if a file exists
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes a file
	Delete(ctx context.Context, path string) error

	// List returns a list of files matching a prefix
	List(ctx context.Context, prefix string) ([]string, error)
}

// LocalFileProvider implements FileProvider for local filesystem.
type LocalFileProvider struct {
	baseDir string
}

// NewLocalFileProvider creates a new local file provider.
func NewLocalFileProvider(baseDir string) *LocalFileProvider {
	return &LocalFileProvider{
		baseDir: baseDir,
	}
}

// Read reads a file from the local filesystem.
func (p *LocalFileProvider) Read(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.baseDir, path)) //nolint:gosec // G304: Path is constructed from trusted baseDir
}

// Write writes data to a local file. The write goes to a temporary file in
// the same directory which is then renamed over the target, so readers never
// observe a partially written file.
func (p *LocalFileProvider) Write(ctx context.Context, path string, data []byte) error {
	fullPath := filepath.Join(p.baseDir, path)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Append appends data to a local file, creating it if needed.
func (p *LocalFileProvider) Append(ctx context.Context, path string, data []byte) error {
	fullPath := filepath.Join(p.baseDir, path)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(fullPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: trusted baseDir
	if err != nil {
		return fmt.Errorf("failed to open file for append: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return f.Close()
}

// Exists checks if a file exists on the local filesystem.
func (p *LocalFileProvider) Exists(ctx context.Context, path string) (bool, error) {
	fullPath := filepath.Join(p.baseDir, path)
	_, err := os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Delete removes a file from the local filesystem.
func (p *LocalFileProvider) Delete(ctx context.Context, path string) error {
	fullPath := filepath.Join(p.baseDir, path)
	err := os.Remove(fullPath)
	if os.IsNotExist(err) {
		return nil // File doesn't exist, consider it deleted
	}
	return err
}

// List returns files matching a prefix in the local filesystem.
func (p *LocalFileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath := filepath.Join(p.baseDir, prefix)

	var result []string
	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if !info.IsDir() {
			rel, err := filepath.Rel(p.baseDir, path)
			if err == nil {
				result = append(result, rel)
			}
		}
		return nil
	})

	if err != nil && os.IsNotExist(err) {
		return []string{}, nil
	}
	return result, err
}
