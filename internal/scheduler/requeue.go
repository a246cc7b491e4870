package scheduler

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/internal/scheduler/metrics"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// RequeueManager applies the bounded-retry policy to transient failures.
// The requeue delay is realized as a not-before timestamp on the submission
// rather than a sleeping goroutine, so the single-threaded scheduling loop
// never blocks on a requeue and queue order is preserved.
type RequeueManager struct {
	queue           repository.SubmissionQueue
	reporter        Reporter
	maxRequeueCount int
	requeueSleep    time.Duration
}

func NewRequeueManager(
	queue repository.SubmissionQueue,
	reporter Reporter,
	maxRequeueCount int,
	requeueSleep time.Duration,
) *RequeueManager {
	return &RequeueManager{
		queue:           queue,
		reporter:        reporter,
		maxRequeueCount: maxRequeueCount,
		requeueSleep:    requeueSleep,
	}
}

// OnTransientFailure requeues the submission with its retry count
// incremented, or terminally fails it once the retry budget is exhausted.
// Returns true if the submission was requeued.
func (m *RequeueManager) OnTransientFailure(sub *workflow.Submission, cause error) (bool, error) {
	if sub.RetryCount+1 > m.maxRequeueCount {
		budgetErr := &schedulererrors.ErrRetryBudgetExhausted{
			SubmissionId: sub.Id,
			Retries:      sub.RetryCount,
		}
		log.WithField("workflow", sub.Id).WithError(cause).
			Warnf("retry budget of %d exhausted", m.maxRequeueCount)
		if err := m.failTerminally(sub, budgetErr); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := m.queue.Requeue(sub, m.requeueSleep); err != nil {
		return false, err
	}
	metrics.RequeuedWorkflows.Inc()
	m.report(&workflow.StatusEvent{
		WorkflowId: sub.Id,
		Owner:      sub.Owner,
		Phase:      workflow.PhaseRequeued,
		Reason:     cause.Error(),
		RetryCount: sub.RetryCount,
	})
	log.WithField("workflow", sub.Id).WithError(cause).
		Infof("requeued for attempt %d of %d", sub.RetryCount, m.maxRequeueCount)
	return true, nil
}

// FailTerminally removes the submission from the queue and reports the
// terminal transition. Used for both exhausted retry budgets and terminal
// denials that never consume a retry.
func (m *RequeueManager) FailTerminally(sub *workflow.Submission, cause error) error {
	return m.failTerminally(sub, cause)
}

func (m *RequeueManager) failTerminally(sub *workflow.Submission, cause error) error {
	if _, err := m.queue.Remove(sub.Id); err != nil {
		return err
	}
	sub.State = workflow.StateFailedTerminal
	class := schedulererrors.Class(cause)
	metrics.TerminalFailures.WithLabelValues(class).Inc()
	m.report(&workflow.StatusEvent{
		WorkflowId: sub.Id,
		Owner:      sub.Owner,
		Phase:      workflow.PhaseFailed,
		Reason:     cause.Error(),
		ErrorClass: class,
		RetryCount: sub.RetryCount,
	})
	log.WithField("workflow", sub.Id).WithError(cause).Errorf("terminally failed (%s)", class)
	return nil
}

func (m *RequeueManager) report(event *workflow.StatusEvent) {
	if err := m.reporter.Report(event); err != nil {
		log.WithError(err).Errorf("failed to report %s event for workflow %s", event.Phase, event.WorkflowId)
	}
}
