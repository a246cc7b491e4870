package checks

import (
	"context"
	"fmt"

	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// ConcurrencyCheck denies admission once the number of admitted-but-not-
// finished workflows reaches the configured ceiling. It reads the
// scheduler's own running set, so it is cheap and runs first.
type ConcurrencyCheck struct {
	running                repository.RunningSet
	maxConcurrentWorkflows int
}

func NewConcurrencyCheck(running repository.RunningSet, maxConcurrentWorkflows int) *ConcurrencyCheck {
	return &ConcurrencyCheck{running: running, maxConcurrentWorkflows: maxConcurrentWorkflows}
}

func (c *ConcurrencyCheck) Name() string {
	return "concurrency-ceiling"
}

func (c *ConcurrencyCheck) Evaluate(ctx context.Context, sub *workflow.Submission) (Verdict, error) {
	count, err := c.running.Count()
	if err != nil {
		return Verdict{}, err
	}
	if count >= c.maxConcurrentWorkflows {
		return Deny(fmt.Sprintf("%d of maximum %d workflows already running", count, c.maxConcurrentWorkflows)), nil
	}
	return Admit(), nil
}
