// Package synth runs the generative model and renders its output tensor into
// a playback-ready 16-bit PCM WAV artifact.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/audio"
	"github.com/book-expert/musicgen-service/internal/core"
	"github.com/book-expert/musicgen-service/internal/model"
)

// Pipeline stages reported in StageError.
const (
	StageGeneration = "generation"
	StageEncoding   = "encoding"
)

// ErrTokenBudget is returned for a non-positive token budget.
var ErrTokenBudget = errors.New("token budget must be positive")

// StageError is a stage-aware pipeline failure.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Generator is the serialised model entry point; *model.Handle satisfies it.
type Generator interface {
	Generate(ctx context.Context, params model.Params) (model.Tensor, model.Config, error)
}

// Request describes one synthesis run.
type Request struct {
	JobID       string
	Input       model.Input
	TokenBudget int
	// OnGenerated, when set, runs after the model returns and before encoding.
	OnGenerated func()
}

// Artifact describes a stored waveform.
type Artifact struct {
	Key        string
	Location   string
	SampleRate int
	Channels   int
	Frames     int
}

// Pipeline turns model inputs into stored WAV artifacts.
type Pipeline struct {
	generator  Generator
	store      core.ArtifactStore
	scratchDir string
	log        *logger.Logger
}

// NewPipeline creates a Pipeline. Encoded files are staged in scratchDir
// (the system temp dir when empty) before being handed to the store.
func NewPipeline(generator Generator, store core.ArtifactStore, scratchDir string, log *logger.Logger) *Pipeline {
	return &Pipeline{
		generator:  generator,
		store:      store,
		scratchDir: scratchDir,
		log:        log,
	}
}

// Synthesize generates audio for req and stores it under the job's key.
// Failures are returned once, wrapped in a StageError; nothing is retried.
func (p *Pipeline) Synthesize(ctx context.Context, req Request) (Artifact, error) {
	if req.TokenBudget <= 0 {
		return Artifact{}, &StageError{Stage: StageGeneration, Err: fmt.Errorf("%w: %d", ErrTokenBudget, req.TokenBudget)}
	}

	tensor, cfg, err := p.generator.Generate(ctx, model.Params{
		Input:         req.Input,
		MaxNewTokens:  req.TokenBudget,
		DoSample:      true,
		GuidanceScale: model.GuidanceScale,
	})
	if err != nil {
		return Artifact{}, &StageError{Stage: StageGeneration, Err: err}
	}

	if req.OnGenerated != nil {
		req.OnGenerated()
	}

	samples, channels, frames, err := Render(tensor)
	if err != nil {
		return Artifact{}, &StageError{Stage: StageEncoding, Err: err}
	}

	key := core.ArtifactKey(req.JobID)

	location, err := p.write(ctx, key, samples, cfg.SampleRate, channels)
	if err != nil {
		return Artifact{}, &StageError{Stage: StageEncoding, Err: err}
	}

	p.log.Info("Rendered %s: %d frames, %d channel(s) at %d Hz", location, frames, channels, cfg.SampleRate)

	return Artifact{
		Key:        key,
		Location:   location,
		SampleRate: cfg.SampleRate,
		Channels:   channels,
		Frames:     frames,
	}, nil
}

// Render extracts the single batch element of a (1, channels, samples)
// tensor, interleaves it channel-last, and quantises it to 16-bit PCM.
func Render(tensor model.Tensor) (samples []int16, channels, frames int, err error) {
	data, channels, frames, err := tensor.Batch(0)
	if err != nil {
		return nil, 0, 0, err
	}

	interleaved := make([]float32, len(data))
	for channel := range channels {
		for frame := range frames {
			interleaved[frame*channels+channel] = data[channel*frames+frame]
		}
	}

	return audio.Quantize(interleaved), channels, frames, nil
}

func (p *Pipeline) write(ctx context.Context, key string, samples []int16, sampleRate, channels int) (string, error) {
	staging, err := os.CreateTemp(p.scratchDir, "musicgen-render-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	defer func() {
		_ = staging.Close()

		removeErr := os.Remove(staging.Name())
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			p.log.Warn("Failed to remove staging file '%s': %v", staging.Name(), removeErr)
		}
	}()

	encodeErr := audio.EncodeWAV(staging, samples, sampleRate, channels)
	if encodeErr != nil {
		return "", encodeErr
	}

	_, seekErr := staging.Seek(0, io.SeekStart)
	if seekErr != nil {
		return "", fmt.Errorf("failed to rewind staging file: %w", seekErr)
	}

	return p.store.Put(ctx, key, staging)
}
