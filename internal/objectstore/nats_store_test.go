// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/book-expert/musicgen-service/internal/core"
	"github.com/book-expert/musicgen-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestNatsObjectStore_Lifecycle(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "test-audio")
	require.NoError(t, err)

	ctx := context.Background()
	key := core.ArtifactKey("job-42")

	location, err := store.Put(ctx, key, strings.NewReader("RIFF....WAVE"))
	require.NoError(t, err)
	assert.Equal(t, "nats://test-audio/job-42.wav", location)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	reader, err := store.Open(ctx, key)
	require.NoError(t, err)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, "RIFF....WAVE", string(data))

	require.NoError(t, store.Delete(ctx, key))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Open(ctx, key)
	require.ErrorIs(t, err, core.ErrArtifactNotFound)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, "shared-audio")
	require.NoError(t, err)

	_, err = first.Put(context.Background(), "a.wav", strings.NewReader("a"))
	require.NoError(t, err)

	second, err := objectstore.New(jetstreamContext, "shared-audio")
	require.NoError(t, err)

	exists, err := second.Exists(context.Background(), "a.wav")
	require.NoError(t, err)
	assert.True(t, exists)
}
