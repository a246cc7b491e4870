package scheduler

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/internal/common/util"
	"github.com/kounelisagis/reana-server/internal/scheduler/backend"
	"github.com/kounelisagis/reana-server/internal/scheduler/checks"
	"github.com/kounelisagis/reana-server/internal/scheduler/configuration"
	"github.com/kounelisagis/reana-server/internal/scheduler/metrics"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

const (
	dispatchAttempts   = 3
	dispatchRetryDelay = 500 * time.Millisecond
)

// Dispatcher issues the job-submission call for an admitted submission.
// It validates resource hints before the backend ever sees them, makes the
// authoritative quota reservation, and hands ownership of the workflow to
// the running set on success.
type Dispatcher struct {
	backend  backend.Backend
	ledger   repository.QuotaLedger
	running  repository.RunningSet
	reporter Reporter
	config   configuration.KubernetesConfig
	clock    util.Clock
}

func NewDispatcher(
	b backend.Backend,
	ledger repository.QuotaLedger,
	running repository.RunningSet,
	reporter Reporter,
	config configuration.KubernetesConfig,
) *Dispatcher {
	return &Dispatcher{
		backend:  b,
		ledger:   ledger,
		running:  running,
		reporter: reporter,
		config:   config,
		clock:    &util.DefaultClock{},
	}
}

// Dispatch submits the workflow to the backend. Returned errors follow the
// taxonomy: a terminal error means the submission must fail terminally, a
// transient one that it should be requeued. The quota reservation made here
// is released again on any dispatch failure; on success it is held until the
// completion watcher sees the workflow finish.
func (d *Dispatcher) Dispatch(ctx context.Context, sub *workflow.Submission) (string, error) {
	if err := d.validateResourceHints(sub); err != nil {
		return "", err
	}

	// The atomic reserve can still deny under a concurrent-admission race
	// for the same owner; that denial is terminal, like any quota denial.
	deltas := checks.QuotaDeltas(sub)
	if err := d.ledger.Reserve(sub.Owner, deltas); err != nil {
		return "", err
	}

	var jobRef string
	err := retry.Do(
		func() error {
			ref, err := d.backend.Submit(ctx, sub)
			if err != nil {
				return err
			}
			jobRef = ref
			return nil
		},
		retry.Attempts(dispatchAttempts),
		retry.Delay(dispatchRetryDelay),
		retry.RetryIf(schedulererrors.IsTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if releaseErr := d.ledger.Release(sub.Owner, deltas); releaseErr != nil {
			log.WithError(releaseErr).Errorf("failed to release quota for %s after dispatch failure", sub.Owner)
		}
		return "", err
	}

	sub.State = workflow.StateRunning
	if err := d.running.Add(sub, d.clock.Now()); err != nil {
		// The job is already running; losing the running-set record must not
		// fail the dispatch. The ceiling recovers on the completion event.
		log.WithError(err).Errorf("failed to record workflow %s as running", sub.Id)
	}

	metrics.DispatchedWorkflows.Inc()
	if err := d.reporter.Report(&workflow.StatusEvent{
		WorkflowId: sub.Id,
		Owner:      sub.Owner,
		Phase:      workflow.PhaseDispatched,
		JobRef:     jobRef,
	}); err != nil {
		log.WithError(err).Errorf("failed to report dispatch of workflow %s", sub.Id)
	}
	log.WithField("workflow", sub.Id).Infof("dispatched as %s", jobRef)
	return jobRef, nil
}

// validateResourceHints rejects memory hints above the hard cluster ceiling
// as non-retriable, so invalid submissions never reach the backend.
func (d *Dispatcher) validateResourceHints(sub *workflow.Submission) error {
	max := d.config.JobsMaxUserMemoryLimit
	if max.IsZero() {
		return nil
	}
	hint := sub.ResourceHints.MinJobMemory
	if !hint.IsZero() && hint.Cmp(max) > 0 {
		return &schedulererrors.ErrDispatchFailure{
			SubmissionId: sub.Id,
			Retriable:    false,
			Message: fmt.Sprintf(
				"requested memory %s exceeds the cluster memory limit %s", hint.String(), max.String(),
			),
		}
	}
	return nil
}
