package worker

import (
	"context"
	"encoding/json"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/jobs"
	"github.com/nats-io/nats.go"
)

// Publisher announces terminal job states on a NATS subject. It implements
// jobs.Notifier.
type Publisher struct {
	natsConnection *nats.Conn
	subject        string
	log            *logger.Logger
}

// NewPublisher creates a Publisher for subject.
func NewPublisher(natsConnection *nats.Conn, subject string, log *logger.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &Publisher{natsConnection: natsConnection, subject: subject, log: log}, nil
}

// JobFinished publishes a JobFinishedEvent. Jobs submitted without a
// correlation id use the job id as their workflow id.
func (p *Publisher) JobFinished(_ context.Context, job jobs.Job) {
	workflowID := job.CorrelationID
	if workflowID == "" {
		workflowID = job.ID
	}

	event := JobFinishedEvent{
		Header:     followUpHeader(events.EventHeader{WorkflowID: workflowID}),
		JobID:      job.ID,
		Status:     job.Status,
		OutputPath: job.OutputPath,
		Error:      job.Error,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to marshal finished event for job %s: %v", job.ID, err)

		return
	}

	publishErr := p.natsConnection.Publish(p.subject, data)
	if publishErr != nil {
		p.log.Error("Failed to publish finished event for job %s: %v", job.ID, publishErr)
	}
}
