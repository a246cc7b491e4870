package checks

import (
	"context"

	"github.com/kounelisagis/reana-server/internal/scheduler/backend"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// FeasibilityCheck asks the execution backend whether at least one job
// matching the submission's resource hints could be scheduled right now.
// It probes the live cluster on every call and runs last: dispatching a job
// the backend would immediately reject is a wasted round trip.
type FeasibilityCheck struct {
	backend backend.Backend
}

func NewFeasibilityCheck(b backend.Backend) *FeasibilityCheck {
	return &FeasibilityCheck{backend: b}
}

func (c *FeasibilityCheck) Name() string {
	return "backend-feasibility"
}

func (c *FeasibilityCheck) Evaluate(ctx context.Context, sub *workflow.Submission) (Verdict, error) {
	snapshot, err := c.backend.Feasibility(ctx, sub.ResourceHints.MinJobMemory)
	if err != nil {
		return Verdict{}, err
	}
	if !snapshot.Feasible {
		return Deny("cluster cannot fit a job of the requested shape right now"), nil
	}
	return Admit(), nil
}
