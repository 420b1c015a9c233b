package jobs

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

// Job states. Complete and failed are terminal.
const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Progress checkpoints.
const (
	ProgressStarted     = 0.2
	ProgressConditioned = 0.4
	ProgressGenerated   = 0.9
	ProgressDone        = 1.0
)

// DefaultDuration applies when a request does not name a duration.
const DefaultDuration = 8.0

var (
	// ErrNotFound is returned for unknown job ids and for completed jobs whose
	// artifact is no longer in the store.
	ErrNotFound = errors.New("job not found")
	// ErrArtifactMissing accompanies ErrNotFound when a complete job's file
	// has gone from the store.
	ErrArtifactMissing = errors.New("file not found")
	// ErrNotReady is returned when the artifact of a non-complete job is requested.
	ErrNotReady = errors.New("audio not ready")
	// ErrJobFinished is returned when cancelling a job in a terminal state.
	ErrJobFinished = errors.New("job already finished")
	// ErrCancelled is the failure recorded for a cancelled job.
	ErrCancelled = errors.New("job cancelled")
	// ErrInvalidRequest is returned for requests rejected before job creation.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrShuttingDown is returned by Submit after Shutdown.
	ErrShuttingDown = errors.New("job manager is shutting down")
)

// Job is a point-in-time snapshot of one generation job.
type Job struct {
	ID         string  `json:"id"`
	Status     Status  `json:"status"`
	Progress   float64 `json:"progress"`
	OutputPath string  `json:"output_path,omitempty"`
	Error      string  `json:"error,omitempty"`
	Prompt     string  `json:"prompt"`
	Duration   float64 `json:"duration"`
	// CorrelationID echoes Request.CorrelationID.
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
}

// Request holds the parameters of one generation. A nil Duration means
// DefaultDuration; out-of-range values are clamped by the planner, not rejected.
type Request struct {
	Prompt        string   `json:"prompt"`
	Duration      *float64 `json:"duration,omitempty"`
	InputAudioURL string   `json:"input_audio_url,omitempty"`
	Continuation  bool     `json:"continuation"`
	// CorrelationID is an opaque caller reference carried onto the job.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RequestedDuration returns the duration to plan for.
func (r Request) RequestedDuration() float64 {
	if r.Duration == nil {
		return DefaultDuration
	}

	return *r.Duration
}

// Validate rejects malformed requests. The reference URL is only checked in
// continuation mode; text-only jobs ignore it.
func (r Request) Validate() error {
	if r.Duration != nil && (math.IsNaN(*r.Duration) || math.IsInf(*r.Duration, 0)) {
		return fmt.Errorf("%w: duration must be a finite number", ErrInvalidRequest)
	}

	if r.Continuation && r.InputAudioURL != "" {
		parsed, err := url.Parse(r.InputAudioURL)
		if err != nil {
			return fmt.Errorf("%w: input_audio_url: %w", ErrInvalidRequest, err)
		}

		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%w: input_audio_url must be http or https", ErrInvalidRequest)
		}
	}

	return nil
}
