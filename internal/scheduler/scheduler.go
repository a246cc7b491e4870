// Package scheduler contains the workflow admission core: a single
// serialized control loop that pulls the next eligible submission from the
// queue, runs the admission checks and either dispatches the workflow to the
// execution backend or requeues it within its retry budget.
package scheduler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/internal/scheduler/checks"
	"github.com/kounelisagis/reana-server/internal/scheduler/metrics"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// Scheduler is the control loop. One tick fully processes at most one
// submission (peek, check, dispatch-or-requeue) before the queue is
// re-evaluated, so newly arrived higher-priority submissions are considered
// promptly. Running a single Scheduler per cluster is what makes the
// concurrency ceiling race-free without a distributed lock.
type Scheduler struct {
	queue      repository.SubmissionQueue
	running    repository.RunningSet
	controller *checks.AdmissionController
	dispatcher *Dispatcher
	requeue    *RequeueManager
	reporter   Reporter

	// consumeInterval paces the loop when there is nothing eligible to
	// schedule; it is the single tunable bounding how often the backend is
	// probed while work is waiting without capacity.
	consumeInterval time.Duration
}

func NewScheduler(
	queue repository.SubmissionQueue,
	running repository.RunningSet,
	controller *checks.AdmissionController,
	dispatcher *Dispatcher,
	requeue *RequeueManager,
	reporter Reporter,
	consumeInterval time.Duration,
) *Scheduler {
	return &Scheduler{
		queue:           queue,
		running:         running,
		controller:      controller,
		dispatcher:      dispatcher,
		requeue:         requeue,
		reporter:        reporter,
		consumeInterval: consumeInterval,
	}
}

// Run ticks until the context is cancelled, sleeping consumeInterval
// whenever a tick found nothing to do.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info("workflow scheduling loop started")
	defer log.Info("workflow scheduling loop stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		progressed, err := s.RunOnce(ctx)
		if err != nil {
			log.WithError(err).Error("scheduling tick failed")
		}
		s.refreshGauges()

		if !progressed {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.consumeInterval):
			}
		}
	}
}

// RunOnce executes a single scheduling tick. It returns true if a submission
// was processed (dispatched, requeued or terminally failed), false if the
// queue held nothing eligible.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	sub, err := s.queue.Peek()
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}

	// A malformed record that slipped past the consumer fails terminally
	// without consuming a retry.
	if err := sub.Validate(); err != nil {
		return true, s.requeue.FailTerminally(sub, err)
	}

	verdict, err := s.controller.CanAdmit(ctx, sub)
	if err != nil {
		// Check infrastructure errors (backend unreachable, probe timeout)
		// are transient: the submission is requeued, never stalled on.
		return s.handleTransient(sub, err)
	}
	if !verdict.Admitted {
		return s.handleDenial(sub, verdict)
	}

	sub.State = workflow.StateDispatching
	if err := s.queue.Update(sub); err != nil {
		return false, err
	}

	if _, err := s.dispatcher.Dispatch(ctx, sub); err != nil {
		if schedulererrors.IsTerminal(err) {
			return true, s.requeue.FailTerminally(sub, err)
		}
		return s.handleTransient(sub, err)
	}

	// Ownership has passed to the backend; drop the submission from the
	// queue.
	if _, err := s.queue.Remove(sub.Id); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Scheduler) handleDenial(sub *workflow.Submission, verdict checks.Verdict) (bool, error) {
	if verdict.Terminal {
		log.WithField("workflow", sub.Id).Warnf("terminal admission denial: %s", verdict.Reason)
		return true, s.requeue.FailTerminally(sub, verdict.Err)
	}
	return s.handleTransient(sub, &schedulererrors.ErrCapacityUnavailable{
		Check:   "admission",
		Message: verdict.Reason,
	})
}

func (s *Scheduler) handleTransient(sub *workflow.Submission, cause error) (bool, error) {
	if _, err := s.requeue.OnTransientFailure(sub, cause); err != nil {
		return false, err
	}
	return true, nil
}

// Withdraw aborts a not-yet-dispatched submission on behalf of its owner,
// removing it from the queue and reporting a terminal transition. After
// dispatch, cancellation is the execution backend's responsibility.
func (s *Scheduler) Withdraw(id string, reason string) (bool, error) {
	sub, err := s.queue.Get(id)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	if _, err := s.queue.Remove(id); err != nil {
		return false, err
	}
	sub.State = workflow.StateFailedTerminal
	if err := s.reporter.Report(&workflow.StatusEvent{
		WorkflowId: sub.Id,
		Owner:      sub.Owner,
		Phase:      workflow.PhaseStopped,
		Reason:     reason,
	}); err != nil {
		log.WithError(err).Errorf("failed to report withdrawal of workflow %s", id)
	}
	return true, nil
}

func (s *Scheduler) refreshGauges() {
	if size, err := s.queue.Size(); err == nil {
		metrics.QueueSize.Set(float64(size))
	}
	if count, err := s.running.Count(); err == nil {
		metrics.RunningWorkflows.Set(float64(count))
	}
}
