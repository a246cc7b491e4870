package scheduler

import (
	"encoding/json"

	stan "github.com/nats-io/stan.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kounelisagis/reana-server/internal/scheduler/checks"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// CompletionWatcher consumes workflow completion events reported by external
// collaborators once a dispatched workflow finishes, fails or is stopped.
// It removes the workflow from the running set and releases the quota
// reserved at dispatch; this is the collaborator boundary through which the
// ledger learns about terminal completions.
type CompletionWatcher struct {
	conn    stan.Conn
	running repository.RunningSet
	ledger  repository.QuotaLedger
	subject string
	group   string

	subscription stan.Subscription
}

func NewCompletionWatcher(
	conn stan.Conn,
	running repository.RunningSet,
	ledger repository.QuotaLedger,
	subject string,
	group string,
) *CompletionWatcher {
	return &CompletionWatcher{
		conn:    conn,
		running: running,
		ledger:  ledger,
		subject: subject,
		group:   group,
	}
}

func (w *CompletionWatcher) Start() error {
	subscription, err := w.conn.QueueSubscribe(w.subject, w.group,
		w.handleMessage,
		stan.SetManualAckMode(),
		stan.DeliverAllAvailable(),
		stan.DurableName(w.group),
	)
	if err != nil {
		return errors.Wrapf(err, "error subscribing to %s", w.subject)
	}
	w.subscription = subscription
	log.Infof("watching workflow completions on %s as %s", w.subject, w.group)
	return nil
}

func (w *CompletionWatcher) Stop() error {
	if w.subscription == nil {
		return nil
	}
	return w.subscription.Close()
}

func (w *CompletionWatcher) handleMessage(msg *stan.Msg) {
	event := &workflow.StatusEvent{}
	if err := json.Unmarshal(msg.Data, event); err != nil {
		log.WithError(err).Error("ignoring unparseable status event")
		w.ack(msg)
		return
	}

	if !isCompletion(event.Phase) {
		w.ack(msg)
		return
	}

	if err := w.HandleCompletion(event); err != nil {
		// Not acked: redelivered so the ledger cannot leak a reservation.
		log.WithError(err).Errorf("failed to process completion of workflow %s", event.WorkflowId)
		return
	}
	w.ack(msg)
}

// HandleCompletion releases the resources held by a finished workflow.
// Duplicate completion events are no-ops: the running set is the record of
// which reservations are still held.
func (w *CompletionWatcher) HandleCompletion(event *workflow.StatusEvent) error {
	sub, err := w.running.Remove(event.WorkflowId)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	if err := w.ledger.Release(sub.Owner, checks.QuotaDeltas(sub)); err != nil {
		return err
	}
	log.WithField("workflow", event.WorkflowId).Infof("completed with phase %s", event.Phase)
	return nil
}

func (w *CompletionWatcher) ack(msg *stan.Msg) {
	if err := msg.Ack(); err != nil {
		log.WithError(err).Error("failed to ack status event")
	}
}

func isCompletion(phase workflow.EventPhase) bool {
	switch phase {
	case workflow.PhaseFinished, workflow.PhaseFailed, workflow.PhaseStopped:
		return true
	default:
		return false
	}
}
