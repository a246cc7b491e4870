package backend

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// FakeBackend is a scripted backend for tests. Feasibility and submit
// outcomes are set by the test; submitted workflows are recorded.
type FakeBackend struct {
	mu sync.Mutex

	FeasibleResult   bool
	RunningWorkflows int
	FeasibilityErr   error

	// SubmitErrs are returned in order for successive Submit calls;
	// once exhausted, submits succeed.
	SubmitErrs []error

	Submitted []*workflow.Submission
	Stopped   []string
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{FeasibleResult: true}
}

func (b *FakeBackend) Feasibility(ctx context.Context, minJobMemory resource.Quantity) (*workflow.CapacitySnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FeasibilityErr != nil {
		return nil, b.FeasibilityErr
	}
	return &workflow.CapacitySnapshot{
		RunningWorkflows: b.RunningWorkflows,
		Feasible:         b.FeasibleResult,
	}, nil
}

func (b *FakeBackend) Submit(ctx context.Context, sub *workflow.Submission) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.SubmitErrs) > 0 {
		err := b.SubmitErrs[0]
		b.SubmitErrs = b.SubmitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	b.Submitted = append(b.Submitted, sub)
	return "run-batch-" + sub.Id, nil
}

func (b *FakeBackend) StopJob(ctx context.Context, jobRef string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Stopped = append(b.Stopped, jobRef)
	return nil
}
