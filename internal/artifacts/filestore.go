// Package artifacts provides a local-directory implementation of
// core.ArtifactStore.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/musicgen-service/internal/core"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

var (
	// ErrOutputDirEmpty indicates that no output directory was configured.
	ErrOutputDirEmpty = errors.New("output directory cannot be empty")
	// ErrInvalidKey indicates a key that would escape the output directory.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// FileStore keeps artifacts as files in a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, ErrOutputDirEmpty
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	dirErr := os.MkdirAll(absDir, dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	return &FileStore{dir: absDir}, nil
}

// Dir returns the absolute directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

// Put writes r to a temp file beside the target and renames it into place,
// so readers never observe a partial artifact.
func (s *FileStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	target, err := s.path(key)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr == nil {
		copyErr = os.Chmod(tmp.Name(), filePermissions)
	}

	if copyErr == nil {
		copyErr = os.Rename(tmp.Name(), target)
	}

	if copyErr != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to write artifact '%s': %w", key, copyErr)
	}

	return target, nil
}

// Open opens the artifact stored under key.
func (s *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrArtifactNotFound, key)
		}

		return nil, fmt.Errorf("failed to open artifact '%s': %w", key, err)
	}

	return file, nil
}

// Exists reports whether key is present.
func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	target, err := s.path(key)
	if err != nil {
		return false, err
	}

	_, statErr := os.Stat(target)
	if statErr == nil {
		return true, nil
	}

	if errors.Is(statErr, os.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat artifact '%s': %w", key, statErr)
}

// Delete removes key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}

	removeErr := os.Remove(target)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact '%s': %w", key, removeErr)
	}

	return nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(s.dir, key), nil
}
