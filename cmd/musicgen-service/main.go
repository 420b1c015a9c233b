// main package for the musicgen-service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/api"
	"github.com/book-expert/musicgen-service/internal/artifacts"
	"github.com/book-expert/musicgen-service/internal/conditioning"
	"github.com/book-expert/musicgen-service/internal/config"
	"github.com/book-expert/musicgen-service/internal/core"
	"github.com/book-expert/musicgen-service/internal/device"
	"github.com/book-expert/musicgen-service/internal/jobs"
	"github.com/book-expert/musicgen-service/internal/model"
	"github.com/book-expert/musicgen-service/internal/objectstore"
	"github.com/book-expert/musicgen-service/internal/observe"
	"github.com/book-expert/musicgen-service/internal/synth"
	"github.com/book-expert/musicgen-service/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	bootstrapLogFile = "musicgen-service-bootstrap.log"
	serviceLogFile   = "musicgen-service.log"
	serviceVersion   = "0.2.0"
	readHeaderLimit  = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return config.Load(log)
}

func run() error {
	configPath := flag.String("config", "", "Path to a TOML config file (defaults to the shared configurator)")
	flag.Parse()

	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration
	cfg, err := loadConfig(*configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	providers, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: serviceVersion})
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			log.Warn("Telemetry shutdown: %v", shutdownErr)
		}
	}()

	metrics := observe.DefaultMetrics()

	selector := device.NewSelector(cfg.Model.Device, device.HostProbes())
	log.Info("Compute device: %s", selector.Select())

	var natsConnection *nats.Conn

	if cfg.NATS.Enabled {
		natsConnection, err = nats.Connect(cfg.NATS.URL, nats.Name("musicgen-service"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		defer natsConnection.Close()
	}

	store, err := newArtifactStore(cfg, natsConnection)
	if err != nil {
		return err
	}

	handle := model.NewHandle(newFactory(cfg, log), selector.Select, cfg.GenerationTimeout(), log)
	loader := conditioning.NewLoader(cfg.FetchTimeout(), selector.Select, log)
	pipeline := synth.NewPipeline(handle, store, cfg.Paths.ScratchDir, log)

	opts := []jobs.Option{jobs.WithMetrics(metrics)}

	if natsConnection != nil {
		publisher, pubErr := worker.NewPublisher(natsConnection, cfg.NATS.FinishedSubject, log)
		if pubErr != nil {
			return pubErr
		}

		opts = append(opts, jobs.WithNotifier(publisher))
	}

	manager := jobs.NewManager(jobs.Config{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		Retention:     cfg.Retention(),
	}, loader, pipeline, store, log, opts...)

	go manager.RunJanitor(ctx, cfg.JanitorInterval())

	workerErrs := make(chan error, 1)

	if natsConnection != nil {
		natsWorker, workerErr := worker.NewNatsWorker(
			natsConnection, cfg.NATS.RequestSubject, cfg.NATS.QueueGroup, manager, log,
		)
		if workerErr != nil {
			return workerErr
		}

		go func() { workerErrs <- natsWorker.Run(ctx) }()
	}

	server := api.NewServer(manager, selector.Select, metrics, promhttp.Handler(), log)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderLimit,
	}

	serverErrs := make(chan error, 1)

	go func() { serverErrs <- httpServer.ListenAndServe() }()

	log.System("MusicGen-Service listening on %s (backend %s, model %s)", cfg.Addr(), cfg.Model.Backend, cfg.Model.Name)

	select {
	case <-ctx.Done():
		log.Info("Shutdown requested.")
	case serveErr := <-serverErrs:
		if !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", serveErr)

			return serveErr
		}
	case workerErr := <-workerErrs:
		if workerErr != nil {
			log.Error("NATS worker failed: %v", workerErr)

			return workerErr
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("HTTP shutdown: %v", shutdownErr)
	}

	managerErr := manager.Shutdown(shutdownCtx)
	if managerErr != nil {
		log.Warn("Job manager shutdown: %v", managerErr)
	}

	log.System("MusicGen-Service stopped.")

	return nil
}

func newArtifactStore(cfg *config.Config, natsConnection *nats.Conn) (core.ArtifactStore, error) {
	if natsConnection != nil && cfg.NATS.ObjectStoreBucket != "" {
		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		store, err := objectstore.New(jetstreamContext, cfg.NATS.ObjectStoreBucket)
		if err != nil {
			return nil, err
		}

		return store, nil
	}

	store, err := artifacts.NewFileStore(cfg.Paths.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare output directory: %w", err)
	}

	return store, nil
}

func newFactory(cfg *config.Config, log *logger.Logger) model.Factory {
	switch cfg.Model.Backend {
	case config.BackendCommand:
		return func(context.Context, device.Device) (model.Generator, error) {
			generator, err := model.NewCommand(model.CommandConfig{
				BinaryPath: cfg.Model.BinaryPath,
				ModelName:  cfg.Model.Name,
				SampleRate: cfg.Model.SampleRate,
			}, log)
			if err != nil {
				return nil, err
			}

			return generator, nil
		}
	case config.BackendTone:
		return func(context.Context, device.Device) (model.Generator, error) {
			return model.NewTone(), nil
		}
	default:
		return func(ctx context.Context, _ device.Device) (model.Generator, error) {
			client := model.NewRemoteClient(cfg.Model.Endpoint, cfg.RequestTimeout())

			generator, err := model.NewRemote(ctx, client)
			if err != nil {
				return nil, err
			}

			if name := generator.Config().Name; name != cfg.Model.Name {
				log.Warn("Inference server reports model %s, configured %s", name, cfg.Model.Name)
			}

			return generator, nil
		}
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
