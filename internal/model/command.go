package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/audio"
)

var (
	// ErrBinaryPathEmpty indicates that no inference binary is configured.
	ErrBinaryPathEmpty = errors.New("inference binary path cannot be empty")
	// ErrSampleRateRequired indicates that the command backend has no sample rate.
	ErrSampleRateRequired = errors.New("command backend needs a positive sample rate")
)

// CommandConfig configures the command backend.
type CommandConfig struct {
	BinaryPath string
	ModelName  string
	SampleRate int
}

// Command is a Generator that shells out to a local inference binary. The
// binary is invoked once per request and writes its output to a WAV file.
type Command struct {
	config CommandConfig
	log    *logger.Logger
}

// NewCommand validates the configuration and resolves the binary on PATH.
func NewCommand(cfg CommandConfig, log *logger.Logger) (*Command, error) {
	if cfg.BinaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	if cfg.SampleRate <= 0 {
		return nil, ErrSampleRateRequired
	}

	resolved, err := exec.LookPath(cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("inference binary %q not found: %w", cfg.BinaryPath, err)
	}

	cfg.BinaryPath = resolved

	return &Command{config: cfg, log: log}, nil
}

// Config returns the configured model description.
func (c *Command) Config() Config {
	return Config{Name: c.config.ModelName, SampleRate: c.config.SampleRate}
}

// Generate runs the binary and reads back the audio it wrote.
func (c *Command) Generate(ctx context.Context, params Params) (Tensor, error) {
	if len(params.Input.Text) == 0 {
		return Tensor{}, ErrEmptyText
	}

	outputFile, err := os.CreateTemp("", "musicgen-output-*.wav")
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to create temp file for model output: %w", err)
	}

	_ = outputFile.Close()
	defer c.remove(outputFile.Name())

	args := []string{
		"--model", c.config.ModelName,
		"--prompt", params.Input.Text[0],
		"--device", string(params.Input.Device),
		"--max-new-tokens", strconv.Itoa(params.MaxNewTokens),
		"--guidance-scale", strconv.FormatFloat(params.GuidanceScale, 'f', 2, 64),
		"--output", outputFile.Name(),
	}

	if params.DoSample {
		args = append(args, "--sample")
	}

	if params.Input.Audio != nil {
		inputPath, writeErr := c.writeReference(*params.Input.Audio)
		if writeErr != nil {
			return Tensor{}, writeErr
		}
		defer c.remove(inputPath)

		args = append(args, "--input-audio", inputPath)
	}

	// #nosec G204 -- the binary path comes from trusted configuration
	cmd := exec.CommandContext(ctx, c.config.BinaryPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return Tensor{}, fmt.Errorf("inference binary execution failed: %w - output: %s", err, string(output))
	}

	wavData, err := os.ReadFile(outputFile.Name())
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	buf, err := audio.DecodeWAV(wavData)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to decode generated audio: %w", err)
	}

	if buf.SampleRate != c.config.SampleRate {
		return Tensor{}, fmt.Errorf("%w: got %d Hz, configured %d Hz",
			ErrSampleRateMismatch, buf.SampleRate, c.config.SampleRate)
	}

	return TensorFromBuffer(buf), nil
}

// writeReference stores the conditioning clip as 16-bit WAV for the binary.
func (c *Command) writeReference(ref audio.Buffer) (string, error) {
	file, err := os.CreateTemp("", "musicgen-input-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for reference audio: %w", err)
	}

	encodeErr := audio.EncodeWAV(file, audio.Quantize(ref.Samples), ref.SampleRate, ref.Channels)
	closeErr := file.Close()

	if encodeErr != nil {
		c.remove(file.Name())

		return "", fmt.Errorf("failed to write reference audio: %w", encodeErr)
	}

	if closeErr != nil {
		c.remove(file.Name())

		return "", fmt.Errorf("failed to close reference audio: %w", closeErr)
	}

	return file.Name(), nil
}

func (c *Command) remove(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		c.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}
