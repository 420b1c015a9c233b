// Package core defines the interfaces shared between the job manager, the
// synthesis pipeline, and their storage backends.
package core

import (
	"context"
	"errors"
	"io"
)

// ErrArtifactNotFound is returned when a key is absent from an ArtifactStore.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore holds the rendered audio files, one per completed job.
type ArtifactStore interface {
	// Put stores the contents of r under key and returns an addressable
	// location for it.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	// Open returns a reader over the artifact stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ArtifactKey returns the storage key for a job's audio file.
func ArtifactKey(jobID string) string {
	return jobID + ".wav"
}
