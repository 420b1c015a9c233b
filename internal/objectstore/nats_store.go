// Package objectstore provides a NATS JetStream implementation of the
// core.ArtifactStore interface.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/musicgen-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	locationFormat = "nats://%s/%s"
	contentTypeWAV = "audio/wav"
)

// NatsObjectStore keeps artifacts in a JetStream object store bucket.
type NatsObjectStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// New creates the bucket, or binds to it if it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Rendered audio for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
	}, nil
}

// Put streams r into the bucket under key.
func (n *NatsObjectStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nats.Header{"Content-Type": []string{contentTypeWAV}},
		Metadata:    nil,
		Opts:        nil,
	}, r)
	if err != nil {
		return "", fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return fmt.Sprintf(locationFormat, n.bucket, key), nil
}

// Open returns a reader over the object stored under key.
func (n *NatsObjectStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrArtifactNotFound, key)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return obj, nil
}

// Exists reports whether key is present in the bucket.
func (n *NatsObjectStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := n.store.GetInfo(key)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, nats.ErrObjectNotFound) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat object '%s' in bucket '%s': %w", key, n.bucket, err)
}

// Delete removes key from the bucket.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
