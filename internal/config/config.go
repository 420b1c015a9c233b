// Package config provides the configuration structure for the musicgen-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Model backends.
const (
	BackendRemote  = "remote"
	BackendCommand = "command"
	BackendTone    = "tone"
)

// Environment overrides.
const (
	EnvModel = "MUSICGEN_MODEL"
	EnvPort  = "PORT"
)

const (
	defaultHost                     = "0.0.0.0"
	defaultPort                     = 5001
	defaultShutdownTimeoutSeconds   = 30
	defaultModelName                = "facebook/musicgen-small"
	defaultBackend                  = BackendRemote
	defaultEndpoint                 = "http://127.0.0.1:8000"
	defaultRequestTimeoutSeconds    = 600
	defaultGenerationTimeoutSeconds = 300
	defaultMaxConcurrent            = 2
	defaultRetentionMinutes         = 60
	defaultJanitorIntervalSeconds   = 60
	defaultFetchTimeoutSeconds      = 60
	defaultOutputDir                = "musicgen_output"
	defaultRequestSubject           = "music.generate.requested"
	defaultFinishedSubject          = "music.generate.finished"
)

var (
	// ErrInvalidPort indicates a port outside 1..65535.
	ErrInvalidPort = errors.New("invalid port")
	// ErrUnknownBackend indicates an unsupported model backend.
	ErrUnknownBackend = errors.New("unknown model backend")
	// ErrEndpointEmpty indicates the remote backend has no endpoint.
	ErrEndpointEmpty = errors.New("model endpoint cannot be empty for the remote backend")
	// ErrBinaryPathEmpty indicates the command backend has no binary.
	ErrBinaryPathEmpty = errors.New("model binary path cannot be empty for the command backend")
	// ErrNATSURLEmpty indicates NATS is enabled without a server URL.
	ErrNATSURLEmpty = errors.New("nats url cannot be empty when nats is enabled")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// ModelConfig selects and configures the generative backend.
type ModelConfig struct {
	Backend                  string `toml:"backend"`
	Name                     string `toml:"name"`
	Device                   string `toml:"device"`
	Endpoint                 string `toml:"endpoint"`
	BinaryPath               string `toml:"binary_path"`
	SampleRate               int    `toml:"sample_rate"`
	RequestTimeoutSeconds    int    `toml:"request_timeout_seconds"`
	GenerationTimeoutSeconds int    `toml:"generation_timeout_seconds"`
}

// JobsConfig sizes the job manager. A negative retention keeps finished
// jobs for the life of the process.
type JobsConfig struct {
	MaxConcurrent          int `toml:"max_concurrent"`
	RetentionMinutes       int `toml:"retention_minutes"`
	JanitorIntervalSeconds int `toml:"janitor_interval_seconds"`
	FetchTimeoutSeconds    int `toml:"fetch_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
	ScratchDir  string `toml:"scratch_dir"`
}

// NATSConfig holds the configuration for NATS. When ObjectStoreBucket is set,
// artifacts are stored in that JetStream bucket instead of OutputDir.
type NATSConfig struct {
	Enabled           bool   `toml:"enabled"`
	URL               string `toml:"url"`
	RequestSubject    string `toml:"request_subject"`
	FinishedSubject   string `toml:"finished_subject"`
	QueueGroup        string `toml:"queue_group"`
	ObjectStoreBucket string `toml:"object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Model  ModelConfig  `toml:"model"`
	Jobs   JobsConfig   `toml:"jobs"`
	Paths  PathsConfig  `toml:"paths"`
	NATS   NATSConfig   `toml:"nats"`
}

// Load loads the configuration for the musicgen-service through the shared
// configurator, then applies defaults and environment overrides.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile loads the configuration from a TOML file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML configuration, then applies defaults and environment
// overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.applyDefaults()

	err := cfg.applyEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Host, defaultHost)
	setDefault(&c.Server.Port, defaultPort)
	setDefault(&c.Server.ShutdownTimeoutSeconds, defaultShutdownTimeoutSeconds)

	setDefault(&c.Model.Backend, defaultBackend)
	setDefault(&c.Model.Name, defaultModelName)
	setDefault(&c.Model.RequestTimeoutSeconds, defaultRequestTimeoutSeconds)
	setDefault(&c.Model.GenerationTimeoutSeconds, defaultGenerationTimeoutSeconds)

	if c.Model.Backend == BackendRemote {
		setDefault(&c.Model.Endpoint, defaultEndpoint)
	}

	setDefault(&c.Jobs.MaxConcurrent, defaultMaxConcurrent)
	setDefault(&c.Jobs.RetentionMinutes, defaultRetentionMinutes)
	setDefault(&c.Jobs.JanitorIntervalSeconds, defaultJanitorIntervalSeconds)
	setDefault(&c.Jobs.FetchTimeoutSeconds, defaultFetchTimeoutSeconds)

	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
	setDefault(&c.Paths.OutputDir, defaultOutputDir)

	setDefault(&c.NATS.RequestSubject, defaultRequestSubject)
	setDefault(&c.NATS.FinishedSubject, defaultFinishedSubject)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if name, ok := lookup(EnvModel); ok && name != "" {
		c.Model.Name = name
	}

	if raw, ok := lookup(EnvPort); ok && raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidPort, EnvPort, raw)
		}

		c.Server.Port = port
	}

	return nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}

	switch c.Model.Backend {
	case BackendRemote:
		if c.Model.Endpoint == "" {
			return ErrEndpointEmpty
		}
	case BackendCommand:
		if c.Model.BinaryPath == "" {
			return ErrBinaryPathEmpty
		}
	case BackendTone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Model.Backend)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.Server.ShutdownTimeoutSeconds)
}

// RequestTimeout bounds one HTTP call to a remote inference server.
func (c *Config) RequestTimeout() time.Duration {
	return seconds(c.Model.RequestTimeoutSeconds)
}

// GenerationTimeout bounds one model generation call; zero disables the
// deadline.
func (c *Config) GenerationTimeout() time.Duration {
	if c.Model.GenerationTimeoutSeconds < 0 {
		return 0
	}

	return seconds(c.Model.GenerationTimeoutSeconds)
}

// Retention is how long finished jobs are kept; zero disables eviction.
func (c *Config) Retention() time.Duration {
	if c.Jobs.RetentionMinutes < 0 {
		return 0
	}

	return time.Duration(c.Jobs.RetentionMinutes) * time.Minute
}

// JanitorInterval is the eviction period.
func (c *Config) JanitorInterval() time.Duration {
	return seconds(c.Jobs.JanitorIntervalSeconds)
}

// FetchTimeout bounds a reference audio download.
func (c *Config) FetchTimeout() time.Duration {
	return seconds(c.Jobs.FetchTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
