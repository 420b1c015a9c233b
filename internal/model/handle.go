package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/device"
	"golang.org/x/sync/semaphore"
)

// ErrGenerationTimeout is returned when a generation call exceeds its deadline.
var ErrGenerationTimeout = errors.New("generation timed out")

// Factory builds a generator bound to the given device.
type Factory func(ctx context.Context, dev device.Device) (Generator, error)

// Handle is the process-wide entry point to the generative model. The
// generator is built on first use and every Generate call is serialised, so
// concurrent jobs never share the model at the same time. A caller waiting for
// the model gives up as soon as its context is done.
type Handle struct {
	factory Factory
	device  func() device.Device
	timeout time.Duration
	log     *logger.Logger

	loadMu    sync.Mutex
	generator Generator

	generateSem *semaphore.Weighted
}

// NewHandle creates a Handle. A timeout of zero disables the generation
// deadline.
func NewHandle(factory Factory, selectDevice func() device.Device, timeout time.Duration, log *logger.Logger) *Handle {
	return &Handle{
		factory: factory,
		device:  selectDevice,
		timeout: timeout,
		log:     log,

		generateSem: semaphore.NewWeighted(1),
	}
}

// Load returns the generator, constructing it if needed. A failed
// construction is not cached; the next caller tries again.
func (h *Handle) Load(ctx context.Context) (Generator, error) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if h.generator != nil {
		return h.generator, nil
	}

	dev := h.device()

	generator, err := h.factory(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("failed to load model on %s: %w", dev, err)
	}

	h.generator = generator
	h.log.Info("Loaded model %s on device %s (sample rate %d Hz)",
		generator.Config().Name, dev, generator.Config().SampleRate)

	return generator, nil
}

// Loaded reports whether the generator has been constructed.
func (h *Handle) Loaded() bool {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	return h.generator != nil
}

// Generate runs one generation call under the model lock and deadline.
func (h *Handle) Generate(ctx context.Context, params Params) (Tensor, Config, error) {
	generator, err := h.Load(ctx)
	if err != nil {
		return Tensor{}, Config{}, err
	}

	acquireErr := h.generateSem.Acquire(ctx, 1)
	if acquireErr != nil {
		return Tensor{}, Config{}, fmt.Errorf("gave up waiting for the model: %w", acquireErr)
	}
	defer h.generateSem.Release(1)

	callCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.timeout)

		defer cancel()
	}

	tensor, err := generator.Generate(callCtx, params)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Tensor{}, Config{}, fmt.Errorf("%w after %s", ErrGenerationTimeout, h.timeout)
		}

		return Tensor{}, Config{}, err
	}

	return tensor, generator.Config(), nil
}
