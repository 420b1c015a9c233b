package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/api"
	"github.com/book-expert/musicgen-service/internal/client"
	"github.com/book-expert/musicgen-service/internal/jobs"
)

// Flag descriptions.
const (
	flagServerDesc       = "Base URL of the musicgen service"
	flagPromptDesc       = "Text prompt describing the music"
	flagDurationDesc     = "Requested duration in seconds (clamped by the service)"
	flagInputAudioDesc   = "URL of reference audio to continue"
	flagContinuationDesc = "Continue the reference audio instead of generating from text"
	flagOutputDesc       = "Output file path (.wav)"
	flagPollDesc         = "Status polling interval"
	flagTimeoutDesc      = "Overall time limit for the job"
	flagLogDirDesc       = "Directory for the client log file"
	flagHealthDesc       = "Check service health and exit"
)

// Flag names.
const (
	flagServer       = "server"
	flagPrompt       = "prompt"
	flagDuration     = "duration"
	flagInputAudio   = "input-audio"
	flagContinuation = "continuation"
	flagOutput       = "output"
	flagPoll         = "poll"
	flagTimeout      = "timeout"
	flagLogDir       = "log-dir"
	flagHealth       = "health"
)

// Defaults.
const (
	defaultServer     = "http://localhost:5001"
	defaultOutputFile = "output.wav"
	defaultPoll       = time.Second
	defaultTimeout    = 15 * time.Minute
	requestTimeout    = 30 * time.Second
	logFileName       = "musicgen-client.log"
)

// Messages.
const (
	errFailedToInitLogger = "failed to initialize logger: %w"
	errContinuationNeeds  = "--continuation requires --input-audio"
	msgServiceHealthy     = "Service is healthy (device: %s)\n"
	msgSubmitted          = "Submitted job %s\n"
	msgProgress           = "\r%-8s %3.0f%%"
	msgGenerated          = "\nGenerated: %s (%d bytes)\n"
)

var errContinuationNeedsAudio = errors.New(errContinuationNeeds)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server       string
	prompt       string
	duration     float64
	inputAudio   string
	continuation bool
	output       string
	poll         time.Duration
	timeout      time.Duration
	logDir       string
	health       bool
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	clientLog, err := logger.New(flags.logDir, logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}
	defer clientLog.Close()

	c := client.New(flags.server, requestTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	if flags.health {
		return handleHealthCheck(ctx, c, clientLog)
	}

	return generate(ctx, c, clientLog, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(fs *flag.FlagSet, args []string) appFlags {
	var flags appFlags

	fs.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	fs.StringVar(&flags.prompt, flagPrompt, "", flagPromptDesc)
	fs.Float64Var(&flags.duration, flagDuration, jobs.DefaultDuration, flagDurationDesc)
	fs.StringVar(&flags.inputAudio, flagInputAudio, "", flagInputAudioDesc)
	fs.BoolVar(&flags.continuation, flagContinuation, false, flagContinuationDesc)
	fs.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	fs.DurationVar(&flags.poll, flagPoll, defaultPoll, flagPollDesc)
	fs.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	fs.StringVar(&flags.logDir, flagLogDir, os.TempDir(), flagLogDirDesc)
	fs.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	_ = fs.Parse(args)

	return flags
}

// buildRequest validates flags and turns them into a generation request.
func buildRequest(flags appFlags) (jobs.Request, error) {
	if flags.continuation && flags.inputAudio == "" {
		return jobs.Request{}, errContinuationNeedsAudio
	}

	duration := flags.duration

	return jobs.Request{
		Prompt:        flags.prompt,
		Duration:      &duration,
		InputAudioURL: flags.inputAudio,
		Continuation:  flags.continuation,
	}, nil
}

func handleHealthCheck(ctx context.Context, c *client.Client, clientLog *logger.Logger) error {
	health, err := c.Health(ctx)
	if err != nil {
		clientLog.Error("Health check failed: %v", err)

		return err
	}

	fmt.Printf(msgServiceHealthy, health.Device)

	return nil
}

func generate(ctx context.Context, c *client.Client, clientLog *logger.Logger, flags appFlags) error {
	req, err := buildRequest(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	id, err := c.Submit(ctx, req)
	if err != nil {
		clientLog.Error("Submit failed: %v", err)

		return err
	}

	clientLog.Info("Submitted job %s", id)
	fmt.Printf(msgSubmitted, id)

	_, err = c.Wait(ctx, id, flags.poll, func(status api.StatusResponse) {
		fmt.Printf(msgProgress, status.Status, status.Progress*100)
	})
	if err != nil {
		clientLog.Error("Job %s did not complete: %v", id, err)

		return err
	}

	return download(ctx, c, clientLog, id, flags.output)
}

func download(ctx context.Context, c *client.Client, clientLog *logger.Logger, id, outputPath string) error {
	dir := filepath.Dir(outputPath)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}

	written, err := c.Download(ctx, id, file)

	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		clientLog.Error("Download of job %s failed: %v", id, err)

		return err
	}

	clientLog.Info("Saved job %s to %s", id, outputPath)
	fmt.Printf(msgGenerated, outputPath, written)

	return nil
}
