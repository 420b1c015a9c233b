// Package worker exposes the job manager over NATS: generation requests arrive
// by request/reply and terminal job states are published as events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/musicgen-service/internal/jobs"
	"github.com/nats-io/nats.go"
)

// Default subjects.
const (
	DefaultRequestSubject  = "music.generate.requested"
	DefaultFinishedSubject = "music.generate.finished"
)

var (
	// ErrSubjectEmpty indicates that no subject was configured.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrWorkflowIDEmpty indicates an event without a workflow id.
	ErrWorkflowIDEmpty = errors.New("event header workflow id cannot be empty")
)

// Submitter accepts generation requests; *jobs.Manager satisfies it.
type Submitter interface {
	Submit(req jobs.Request) (string, error)
}

// NatsWorker listens for generation requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queue          string
	submitter      Submitter
	log            *logger.Logger
}

// NewNatsWorker creates a worker. When queue is non-empty the subscription
// joins that queue group so several replicas share the subject.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	queue string,
	submitter Submitter,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queue:          queue,
		submitter:      submitter,
		log:            log,
	}, nil
}

// Run subscribes and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.queue != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.subject, w.queue, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for generation requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)
		w.reply(msg, &JobAcceptedEvent{Header: followUpHeader(event.Header), Error: err.Error()})

		return
	}

	jobID, submitErr := w.submitter.Submit(event.request())
	if submitErr != nil {
		w.log.Error("Rejected generation request for workflow %s: %v", event.Header.WorkflowID, submitErr)
		w.reply(msg, &JobAcceptedEvent{Header: followUpHeader(event.Header), Error: submitErr.Error()})

		return
	}

	w.log.Info("Workflow %s submitted as job %s", event.Header.WorkflowID, jobID)
	w.reply(msg, &JobAcceptedEvent{Header: followUpHeader(event.Header), JobID: jobID})
}

func (w *NatsWorker) reply(msg *nats.Msg, replyEvent *JobAcceptedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	respondErr := msg.Respond(replyData)
	if respondErr != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", replyEvent.Header.WorkflowID, respondErr)
	}
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (GenerationRequestedEvent, error) {
	var event GenerationRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return GenerationRequestedEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.Header.WorkflowID == "" {
		return event, ErrWorkflowIDEmpty
	}

	return event, nil
}
