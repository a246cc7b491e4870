// Package checks implements the admission controller: an ordered list of
// independently pluggable checks, folded over with a short-circuit on the
// first deny. New checks are added by appending to the list, not by
// branching inside existing logic.
package checks

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/kounelisagis/reana-server/internal/scheduler/metrics"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// Verdict is one check's answer for one submission.
type Verdict struct {
	Admitted bool
	// Reason explains a deny.
	Reason string
	// Terminal denials are not retried: the submission transitions to
	// FailedTerminal without consuming its retry budget.
	Terminal bool
	// Err is the typed taxonomy error behind a terminal deny.
	Err error
}

func Admit() Verdict {
	return Verdict{Admitted: true}
}

func Deny(reason string) Verdict {
	return Verdict{Reason: reason}
}

func DenyTerminal(err error) Verdict {
	return Verdict{Reason: err.Error(), Terminal: true, Err: err}
}

// AdmissionCheck answers go/no-go for one submission. Checks must be
// deterministic: the same submission against unchanged external state yields
// the same verdict.
type AdmissionCheck interface {
	Name() string
	Evaluate(ctx context.Context, sub *workflow.Submission) (Verdict, error)
}

// AdmissionController runs its checks in order and short-circuits on the
// first deny, so cheap checks should be listed before expensive backend
// probes.
type AdmissionController struct {
	checks []AdmissionCheck
}

func NewAdmissionController(checks ...AdmissionCheck) *AdmissionController {
	return &AdmissionController{checks: checks}
}

// CheckNames lists the configured checks in evaluation order.
func (c *AdmissionController) CheckNames() []string {
	names := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		names = append(names, check.Name())
	}
	return names
}

// CanAdmit evaluates all checks for the submission. The returned verdict is
// the first deny, or an admit if every check passed. An error from a check
// is returned as-is; the caller classifies it through the error taxonomy.
func (c *AdmissionController) CanAdmit(ctx context.Context, sub *workflow.Submission) (Verdict, error) {
	for _, check := range c.checks {
		verdict, err := check.Evaluate(ctx, sub)
		if err != nil {
			return Verdict{}, err
		}
		if !verdict.Admitted {
			metrics.AdmissionDenied.WithLabelValues(check.Name()).Inc()
			log.WithField("workflow", sub.Id).
				WithField("check", check.Name()).
				Infof("admission denied: %s", verdict.Reason)
			return verdict, nil
		}
	}
	return Admit(), nil
}
