package scheduler

import (
	"encoding/json"

	stan "github.com/nats-io/stan.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/internal/scheduler/metrics"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// SubmissionConsumer receives workflow-submission messages one at a time and
// enqueues them into the submission queue. MaxInflight(1) with manual acks
// bounds the rate at which new work enters the system: a message is
// acknowledged only after it is durably enqueued, so a crash between receipt
// and enqueue loses nothing, and a malformed message is acknowledged with an
// error event rather than silently dropped.
type SubmissionConsumer struct {
	conn            stan.Conn
	queue           repository.SubmissionQueue
	reporter        Reporter
	subject         string
	group           string
	defaultPriority int64

	subscription stan.Subscription
}

func NewSubmissionConsumer(
	conn stan.Conn,
	queue repository.SubmissionQueue,
	reporter Reporter,
	subject string,
	group string,
	defaultPriority int64,
) *SubmissionConsumer {
	return &SubmissionConsumer{
		conn:            conn,
		queue:           queue,
		reporter:        reporter,
		subject:         subject,
		group:           group,
		defaultPriority: defaultPriority,
	}
}

func (c *SubmissionConsumer) Start() error {
	subscription, err := c.conn.QueueSubscribe(c.subject, c.group,
		c.handleMessage,
		stan.SetManualAckMode(),
		stan.DeliverAllAvailable(),
		stan.DurableName(c.group),
		stan.MaxInflight(1),
	)
	if err != nil {
		return errors.Wrapf(err, "error subscribing to %s", c.subject)
	}
	c.subscription = subscription
	log.Infof("consuming workflow submissions from %s as %s", c.subject, c.group)
	return nil
}

func (c *SubmissionConsumer) Stop() error {
	if c.subscription == nil {
		return nil
	}
	return c.subscription.Close()
}

func (c *SubmissionConsumer) handleMessage(msg *stan.Msg) {
	metrics.ConsumedMessages.Inc()

	sub, err := c.parse(msg.Data)
	if err != nil {
		// Malformed: acknowledged with an error so it is not redelivered
		// forever, but always visible to operators.
		c.rejectMalformed(msg, err)
		return
	}

	if err := c.queue.Enqueue(sub); err != nil {
		// Not acked: the message is redelivered once the queue store
		// recovers.
		log.WithError(err).Errorf("failed to enqueue workflow %s; leaving message unacked", sub.Id)
		return
	}

	if err := c.reporter.Report(&workflow.StatusEvent{
		WorkflowId: sub.Id,
		Owner:      sub.Owner,
		Phase:      workflow.PhaseQueued,
	}); err != nil {
		log.WithError(err).Errorf("failed to report enqueue of workflow %s", sub.Id)
	}

	if err := msg.Ack(); err != nil {
		log.WithError(err).Errorf("failed to ack submission message for workflow %s", sub.Id)
	}
}

// parse converts the wire document into a Submission, applying the policy
// default priority and validating required fields. OperationalOptions pass
// through unvalidated.
func (c *SubmissionConsumer) parse(data []byte) (*workflow.Submission, error) {
	message := &workflow.SubmissionMessage{}
	if err := json.Unmarshal(data, message); err != nil {
		return nil, &schedulererrors.ErrMalformedSubmission{Field: "body", Message: "is not valid json"}
	}

	priority := c.defaultPriority
	if message.Priority != nil {
		priority = *message.Priority
	}

	hints := workflow.ResourceHints{}
	if message.MinJobMemory != "" {
		quantity, err := resource.ParseQuantity(message.MinJobMemory)
		if err != nil {
			return nil, &schedulererrors.ErrMalformedSubmission{
				SubmissionId: message.Id,
				Field:        "minJobMemory",
				Message:      "is not a valid quantity",
			}
		}
		hints.MinJobMemory = quantity
	}

	sub := &workflow.Submission{
		Id:                 message.Id,
		Owner:              message.Owner,
		Priority:           priority,
		SpecRef:            message.SpecRef,
		ResourceHints:      hints,
		OperationalOptions: message.OperationalOptions,
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *SubmissionConsumer) rejectMalformed(msg *stan.Msg, cause error) {
	metrics.MalformedMessages.Inc()
	log.WithError(cause).Error("rejecting malformed submission message")

	event := &workflow.StatusEvent{
		Phase:      workflow.PhaseFailed,
		Reason:     cause.Error(),
		ErrorClass: schedulererrors.Class(cause),
	}
	var malformedErr *schedulererrors.ErrMalformedSubmission
	if errors.As(cause, &malformedErr) {
		event.WorkflowId = malformedErr.SubmissionId
	}
	if err := c.reporter.Report(event); err != nil {
		log.WithError(err).Error("failed to report malformed submission")
	}

	if err := msg.Ack(); err != nil {
		log.WithError(err).Error("failed to ack malformed submission message")
	}
}
