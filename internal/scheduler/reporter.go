package scheduler

import (
	"encoding/json"

	stan "github.com/nats-io/stan.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kounelisagis/reana-server/internal/common/util"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// Reporter publishes workflow state transitions for external collaborators
// (status API, notifications). Every terminal transition goes through here;
// the scheduler never discards a submission without an observable event.
type Reporter interface {
	Report(event *workflow.StatusEvent) error
}

// StanReporter publishes status events as JSON on a NATS Streaming subject.
type StanReporter struct {
	conn    stan.Conn
	subject string
	clock   util.Clock
}

func NewStanReporter(conn stan.Conn, subject string) *StanReporter {
	return &StanReporter{conn: conn, subject: subject, clock: &util.DefaultClock{}}
}

func (r *StanReporter) Report(event *workflow.StatusEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "error marshalling status event for %s", event.WorkflowId)
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		return errors.Wrapf(err, "error publishing status event for %s", event.WorkflowId)
	}
	log.WithField("workflow", event.WorkflowId).Debugf("reported %s", event.Phase)
	return nil
}

// RecordingReporter collects events in memory, for tests.
type RecordingReporter struct {
	Events []*workflow.StatusEvent
}

func (r *RecordingReporter) Report(event *workflow.StatusEvent) error {
	r.Events = append(r.Events, event)
	return nil
}

// EventsWithPhase returns the recorded events matching phase, in order.
func (r *RecordingReporter) EventsWithPhase(phase workflow.EventPhase) []*workflow.StatusEvent {
	var matched []*workflow.StatusEvent
	for _, event := range r.Events {
		if event.Phase == phase {
			matched = append(matched, event)
		}
	}
	return matched
}
