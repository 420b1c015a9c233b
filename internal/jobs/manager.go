// Package jobs tracks generation jobs from submission to a terminal state and
// runs them on a bounded worker pool.
//
// Each job is mutated only by its own goroutine after creation; readers get
// copies taken under the table lock. Progress moves through fixed checkpoints
// and never decreases while a job runs. A failed job carries its error
// message and progress 0; a complete job carries its artifact location and
// progress 1.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/core"
	"github.com/book-expert/musicgen-service/internal/model"
	"github.com/book-expert/musicgen-service/internal/observe"
	"github.com/book-expert/musicgen-service/internal/planner"
	"github.com/book-expert/musicgen-service/internal/synth"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds the worker pool when Config leaves it unset.
const DefaultMaxConcurrent = 2

// Conditioner prepares model input for a request.
type Conditioner interface {
	Load(ctx context.Context, prompt, audioURL string, continuation bool) (model.Input, error)
}

// Synthesizer renders and stores audio for prepared input.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Artifact, error)
}

// Notifier is told about every job that reaches a terminal state.
type Notifier interface {
	JobFinished(ctx context.Context, job Job)
}

// Config sizes the manager.
type Config struct {
	// MaxConcurrent is the number of jobs allowed to run at once.
	MaxConcurrent int
	// Retention is how long terminal jobs are kept. Zero keeps them forever.
	Retention time.Duration
}

// Option customises a Manager.
type Option func(*Manager)

// WithNotifier registers n for terminal-state notifications.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics records job metrics on met instead of observe.DefaultMetrics.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type entry struct {
	job       Job
	request   Request
	key       string
	cancel    context.CancelFunc
	cancelled bool
}

// Manager owns the job table and the worker pool.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	pool        *semaphore.Weighted
	conditioner Conditioner
	synthesizer Synthesizer
	store       core.ArtifactStore
	notifier    Notifier
	metrics     *observe.Metrics
	log         *logger.Logger
	retention   time.Duration
	now         func() time.Time

	baseCtx  context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	stopping bool
}

// NewManager creates a Manager. The store is used to serve and evict
// artifacts; the synthesizer is expected to write into the same store.
func NewManager(
	cfg Config,
	conditioner Conditioner,
	synthesizer Synthesizer,
	store core.ArtifactStore,
	log *logger.Logger,
	opts ...Option,
) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	baseCtx, stop := context.WithCancel(context.Background())

	m := &Manager{
		jobs:        make(map[string]*entry),
		pool:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		conditioner: conditioner,
		synthesizer: synthesizer,
		store:       store,
		log:         log,
		retention:   cfg.Retention,
		now:         time.Now,
		baseCtx:     baseCtx,
		stop:        stop,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}

	return m
}

// Submit validates req, records a pending job, and starts it in the
// background. It never waits for a worker slot.
func (m *Manager) Submit(req Request) (string, error) {
	err := req.Validate()
	if err != nil {
		return "", err
	}

	now := m.now()
	id := uuid.NewString()

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()

		return "", ErrShuttingDown
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	m.jobs[id] = &entry{
		job: Job{
			ID:            id,
			Status:        StatusPending,
			Prompt:        req.Prompt,
			Duration:      req.RequestedDuration(),
			CorrelationID: req.CorrelationID,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		request: req,
		cancel:  cancel,
	}
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.JobsSubmitted.Add(ctx, 1)
	m.log.Info("Accepted job %s (duration %.1fs, continuation %t)", id, req.RequestedDuration(), req.Continuation)

	go m.run(ctx, id, req)

	return id, nil
}

// Status returns a snapshot of job id.
func (m *Manager) Status(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return e.job, nil
}

// List returns snapshots of all jobs, oldest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		if a.ID < b.ID {
			return -1
		}

		if a.ID > b.ID {
			return 1
		}

		return 0
	})

	return out
}

// Artifact opens the rendered audio of a complete job. The caller closes it.
func (m *Manager) Artifact(ctx context.Context, id string) (io.ReadCloser, Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]

	var (
		job Job
		key string
	)

	if ok {
		job, key = e.job, e.key
	}
	m.mu.RUnlock()

	if !ok {
		return nil, Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if job.Status != StatusComplete || key == "" {
		return nil, job, fmt.Errorf("%w: job %s is %s", ErrNotReady, id, job.Status)
	}

	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return nil, job, fmt.Errorf("failed to look up artifact for job %s: %w", id, err)
	}

	if !exists {
		return nil, job, fmt.Errorf("%w: %w: job %s", ErrNotFound, ErrArtifactMissing, id)
	}

	rc, err := m.store.Open(ctx, key)
	if errors.Is(err, core.ErrArtifactNotFound) {
		return nil, job, fmt.Errorf("%w: %w: job %s", ErrNotFound, ErrArtifactMissing, id)
	}

	if err != nil {
		return nil, job, fmt.Errorf("failed to open artifact for job %s: %w", id, err)
	}

	return rc, job, nil
}

// Cancel stops a pending or running job; it will end failed with ErrCancelled.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if e.job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, e.job.Status)
	}

	e.cancelled = true
	e.cancel()
	m.log.Info("Cancellation requested for job %s", id)

	return nil
}

// Evict removes terminal jobs that finished more than the retention period
// before now, deleting their artifacts. It returns the number removed.
func (m *Manager) Evict(ctx context.Context, now time.Time) int {
	if m.retention <= 0 {
		return 0
	}

	cutoff := now.Add(-m.retention)

	var keys []string

	removed := 0

	m.mu.Lock()
	for id, e := range m.jobs {
		if !e.job.Status.Terminal() || e.job.FinishedAt.After(cutoff) {
			continue
		}

		if e.key != "" {
			keys = append(keys, e.key)
		}

		delete(m.jobs, id)
		removed++
	}
	m.mu.Unlock()

	for _, key := range keys {
		err := m.store.Delete(ctx, key)
		if err != nil {
			m.log.Warn("Failed to delete evicted artifact %s: %v", key, err)
		}
	}

	if removed > 0 {
		m.log.Info("Evicted %d finished job(s)", removed)
	}

	return removed
}

// RunJanitor calls Evict every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict(ctx, m.now())
		}
	}
}

// Shutdown cancels every unfinished job and waits for their goroutines to
// record a terminal state, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	m.stop()

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job manager shutdown: %w", ctx.Err())
	}
}

func (m *Manager) run(ctx context.Context, id string, req Request) {
	defer m.wg.Done()

	ctx, span := observe.StartSpan(ctx, "musicgen.job")
	span.SetAttributes(
		attribute.String("job.id", id),
		attribute.Bool("job.continuation", req.Continuation),
	)

	defer span.End()

	defer func() {
		if recovered := recover(); recovered != nil {
			m.log.Error("Job %s panicked: %v", id, recovered)
			m.fail(ctx, id, fmt.Errorf("internal error: %v", recovered))
		}
	}()

	m.metrics.JobsQueued.Add(ctx, 1)
	acquireErr := m.pool.Acquire(ctx, 1)
	m.metrics.JobsQueued.Add(ctx, -1)

	if acquireErr != nil {
		m.fail(ctx, id, acquireErr)

		return
	}

	m.metrics.JobsActive.Add(ctx, 1)

	defer func() {
		m.metrics.JobsActive.Add(ctx, -1)
		m.pool.Release(1)
	}()

	m.transition(id, StatusRunning, ProgressStarted)

	input, err := m.conditioner.Load(ctx, req.Prompt, req.InputAudioURL, req.Continuation)
	if err != nil {
		m.fail(ctx, id, err)

		return
	}

	m.transition(id, StatusRunning, ProgressConditioned)

	budget := planner.Plan(req.RequestedDuration())
	span.SetAttributes(attribute.Int("job.token_budget", budget))

	generationStart := time.Now()
	artifact, err := m.synthesizer.Synthesize(ctx, synth.Request{
		JobID:       id,
		Input:       input,
		TokenBudget: budget,
		OnGenerated: func() {
			m.metrics.GenerationDuration.Record(ctx, time.Since(generationStart).Seconds())
			m.transition(id, StatusRunning, ProgressGenerated)
		},
	})
	if err != nil {
		m.fail(ctx, id, err)

		return
	}

	m.complete(ctx, id, artifact)
}

// transition moves a running job forward. Progress never goes backwards.
func (m *Manager) transition(id string, status Status, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok || e.job.Status.Terminal() {
		return
	}

	e.job.Status = status
	e.job.Progress = max(e.job.Progress, progress)
	e.job.UpdatedAt = m.now()
}

func (m *Manager) complete(ctx context.Context, id string, artifact synth.Artifact) {
	m.mu.Lock()
	e, ok := m.jobs[id]

	if !ok {
		m.mu.Unlock()

		return
	}

	if e.cancelled {
		m.mu.Unlock()

		deleteErr := m.store.Delete(context.WithoutCancel(ctx), artifact.Key)
		if deleteErr != nil {
			m.log.Warn("Failed to delete artifact of cancelled job %s: %v", id, deleteErr)
		}

		m.fail(ctx, id, ErrCancelled)

		return
	}

	now := m.now()
	e.job.Status = StatusComplete
	e.job.Progress = ProgressDone
	e.job.OutputPath = artifact.Location
	e.job.UpdatedAt = now
	e.job.FinishedAt = now
	e.key = artifact.Key
	e.cancel()
	snapshot := e.job
	m.mu.Unlock()

	m.log.Info("Job %s complete: %s", id, artifact.Location)
	m.finish(ctx, snapshot)
}

func (m *Manager) fail(ctx context.Context, id string, cause error) {
	m.mu.Lock()
	e, ok := m.jobs[id]

	if !ok || e.job.Status.Terminal() {
		m.mu.Unlock()

		return
	}

	switch {
	case e.cancelled:
		cause = ErrCancelled
	case m.baseCtx.Err() != nil:
		cause = ErrShuttingDown
	}

	now := m.now()
	e.job.Status = StatusFailed
	e.job.Progress = 0
	e.job.Error = cause.Error()
	e.job.UpdatedAt = now
	e.job.FinishedAt = now
	e.cancel()
	snapshot := e.job
	m.mu.Unlock()

	m.log.Error("Job %s failed: %v", id, cause)
	m.finish(ctx, snapshot)
}

func (m *Manager) finish(ctx context.Context, job Job) {
	seconds := job.FinishedAt.Sub(job.CreatedAt).Seconds()
	m.metrics.RecordFinished(ctx, string(job.Status), seconds)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("job.status", string(job.Status)))

	if job.Status == StatusFailed {
		span.SetStatus(codes.Error, job.Error)
	}

	if m.notifier != nil {
		// Notification outlives the job's own cancelled context.
		m.notifier.JobFinished(context.WithoutCancel(ctx), job)
	}
}
