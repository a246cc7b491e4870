// Package backend abstracts the cluster execution system that runs admitted
// workflows. The scheduler only ever asks two questions of it: "does one more
// job of this shape fit right now" and "start this workflow".
package backend

import (
	"context"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kounelisagis/reana-server/pkg/workflow"
)

type Backend interface {
	// Feasibility reports whether at least one job requiring minJobMemory
	// could be scheduled right now, together with the current count of
	// backend-side workflow jobs. The snapshot is recomputed on every call.
	Feasibility(ctx context.Context, minJobMemory resource.Quantity) (*workflow.CapacitySnapshot, error)

	// Submit starts the workflow and returns a backend job reference.
	// Errors are *schedulererrors.ErrDispatchFailure with Retriable set
	// according to the backend's classification: infeasible-now and
	// timeouts are retriable, invalid requests are not.
	Submit(ctx context.Context, sub *workflow.Submission) (jobRef string, err error)

	// StopJob removes a previously submitted workflow job. Used when a
	// dispatched workflow is aborted by its owner.
	StopJob(ctx context.Context, jobRef string) error
}
