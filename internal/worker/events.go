package worker

import (
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/musicgen-service/internal/jobs"
	"github.com/google/uuid"
)

// GenerationRequestedEvent asks the service to start a generation job.
type GenerationRequestedEvent struct {
	Header        events.EventHeader `json:"header"`
	Prompt        string             `json:"prompt"`
	Duration      *float64           `json:"duration,omitempty"`
	InputAudioURL string             `json:"input_audio_url,omitempty"`
	Continuation  bool               `json:"continuation"`
}

// JobAcceptedEvent is the reply to a GenerationRequestedEvent. Error is set
// and JobID empty when the request was rejected.
type JobAcceptedEvent struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// JobFinishedEvent announces that a job reached a terminal state.
type JobFinishedEvent struct {
	Header     events.EventHeader `json:"header"`
	JobID      string             `json:"job_id"`
	Status     jobs.Status        `json:"status"`
	OutputPath string             `json:"output_path,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (e GenerationRequestedEvent) request() jobs.Request {
	return jobs.Request{
		Prompt:        e.Prompt,
		Duration:      e.Duration,
		InputAudioURL: e.InputAudioURL,
		Continuation:  e.Continuation,
		CorrelationID: e.Header.WorkflowID,
	}
}

// followUpHeader keeps the workflow identity of parent with a fresh event id.
func followUpHeader(parent events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: parent.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     parent.UserID,
		TenantID:   parent.TenantID,
	}
}
