// Package config_test tests the configuration loading for the musicgen-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/musicgen-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	tomlData := `
[server]
host = "127.0.0.1"
port = 8080

[model]
backend = "command"
name = "facebook/musicgen-medium"
device = "cuda"
binary_path = "/usr/local/bin/musicgen"
sample_rate = 32000
generation_timeout_seconds = 120

[jobs]
max_concurrent = 4
retention_minutes = 15
fetch_timeout_seconds = 10

[paths]
base_logs_dir = "/var/log/musicgen"
output_dir = "/var/lib/musicgen"

[nats]
enabled = true
url = "nats://127.0.0.1:4222"
queue_group = "musicgen"
object_store_bucket = "MUSIC_FILES"
`

	t.Setenv(config.EnvModel, "")
	t.Setenv(config.EnvPort, "")

	cfg, err := config.Parse([]byte(tomlData))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, config.BackendCommand, cfg.Model.Backend)
	assert.Equal(t, "facebook/musicgen-medium", cfg.Model.Name)
	assert.Equal(t, "cuda", cfg.Model.Device)
	assert.Equal(t, "/usr/local/bin/musicgen", cfg.Model.BinaryPath)
	assert.Equal(t, 32000, cfg.Model.SampleRate)
	assert.Equal(t, 2*time.Minute, cfg.GenerationTimeout())
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 15*time.Minute, cfg.Retention())
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout())
	assert.Equal(t, "/var/log/musicgen", cfg.Paths.BaseLogsDir)
	assert.Equal(t, "/var/lib/musicgen", cfg.Paths.OutputDir)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "musicgen", cfg.NATS.QueueGroup)
	assert.Equal(t, "MUSIC_FILES", cfg.NATS.ObjectStoreBucket)
	assert.Equal(t, "music.generate.requested", cfg.NATS.RequestSubject)
	assert.Equal(t, "music.generate.finished", cfg.NATS.FinishedSubject)
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Setenv(config.EnvModel, "")
	t.Setenv(config.EnvPort, "")

	cfg, err := config.Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5001", cfg.Addr())
	assert.Equal(t, config.BackendRemote, cfg.Model.Backend)
	assert.Equal(t, "facebook/musicgen-small", cfg.Model.Name)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Model.Endpoint)
	assert.Equal(t, 5*time.Minute, cfg.GenerationTimeout())
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, time.Hour, cfg.Retention())
	assert.Equal(t, time.Minute, cfg.FetchTimeout())
	assert.Equal(t, time.Minute, cfg.JanitorInterval())
	assert.False(t, cfg.NATS.Enabled)
}

func TestParseConfig_NegativeRetentionDisablesEviction(t *testing.T) {
	t.Setenv(config.EnvModel, "")
	t.Setenv(config.EnvPort, "")

	cfg, err := config.Parse([]byte("[jobs]\nretention_minutes = -1\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Retention())
}

func TestParseConfig_GenerationDeadline(t *testing.T) {
	t.Setenv(config.EnvModel, "")
	t.Setenv(config.EnvPort, "")

	cfg, err := config.Parse([]byte("[model]\ngeneration_timeout_seconds = 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.GenerationTimeout())

	cfg, err = config.Parse([]byte("[model]\ngeneration_timeout_seconds = -1\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.GenerationTimeout())
}

func TestParseConfig_EnvOverrides(t *testing.T) {
	t.Setenv(config.EnvModel, "facebook/musicgen-melody")
	t.Setenv(config.EnvPort, "7000")

	cfg, err := config.Parse([]byte("[model]\nname = \"facebook/musicgen-small\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "facebook/musicgen-melody", cfg.Model.Name)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestParseConfig_Invalid(t *testing.T) {
	t.Setenv(config.EnvModel, "")

	testCases := []struct {
		name    string
		toml    string
		port    string
		wantErr error
	}{
		{name: "unknown backend", toml: "[model]\nbackend = \"gpu-farm\"\n", wantErr: config.ErrUnknownBackend},
		{name: "command without binary", toml: "[model]\nbackend = \"command\"\n", wantErr: config.ErrBinaryPathEmpty},
		{name: "nats without url", toml: "[nats]\nenabled = true\n", wantErr: config.ErrNATSURLEmpty},
		{name: "port out of range", toml: "[server]\nport = 70000\n", wantErr: config.ErrInvalidPort},
		{name: "non-numeric PORT", toml: "", port: "http", wantErr: config.ErrInvalidPort},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(config.EnvPort, tc.port)

			_, err := config.Parse([]byte(tc.toml))
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv(config.EnvModel, "")
	t.Setenv(config.EnvPort, "")

	path := filepath.Join(t.TempDir(), "musicgen.toml")
	require.NoError(t, os.WriteFile(path, []byte("[model]\nbackend = \"tone\"\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.BackendTone, cfg.Model.Backend)
	assert.Empty(t, cfg.Model.Endpoint)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
