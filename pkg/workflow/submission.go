// Package workflow holds the shared model passed between the scheduler core,
// its repositories and the execution backend.
package workflow

import (
	"time"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
)

// SubmissionState tracks a workflow submission through the admission pipeline.
// Running is owned by the execution backend; the scheduler only records the
// transition out of its own ownership.
type SubmissionState string

const (
	StateQueued         SubmissionState = "queued"
	StateDispatching    SubmissionState = "dispatching"
	StateRunning        SubmissionState = "running"
	StateRequeued       SubmissionState = "requeued"
	StateFailedTerminal SubmissionState = "failed"
)

// ResourceHints are structured minimums forwarded to the backend.
// Zero values mean "no preference".
type ResourceHints struct {
	MinJobMemory resource.Quantity `json:"minJobMemory,omitempty"`
}

// Submission is the unit of work. The submission queue exclusively owns it
// until a successful dispatch hands it over to the backend.
type Submission struct {
	Id       string `json:"id"`
	Owner    string `json:"owner"`
	Priority int64  `json:"priority"`
	SpecRef  string `json:"specRef"`

	ResourceHints ResourceHints `json:"resourceHints"`

	// OperationalOptions is an opaque bag passed through to the backend
	// unvalidated. May be nil.
	OperationalOptions map[string]string `json:"operationalOptions,omitempty"`

	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	State      SubmissionState `json:"state"`

	// Seq is the arrival sequence number assigned on first enqueue. It is
	// reused on requeue so a requeued submission keeps its place relative to
	// new arrivals of equal priority.
	Seq int64 `json:"seq"`

	// NotBefore delays eligibility of a requeued submission without moving
	// it in the queue.
	NotBefore time.Time `json:"notBefore,omitempty"`
}

// Validate checks the fields required for scheduling. OperationalOptions are
// deliberately not validated beyond tolerating absence.
func (s *Submission) Validate() error {
	if s.Id == "" {
		return &schedulererrors.ErrMalformedSubmission{Field: "id", Message: "must not be empty"}
	}
	if s.Owner == "" {
		return &schedulererrors.ErrMalformedSubmission{SubmissionId: s.Id, Field: "owner", Message: "must not be empty"}
	}
	if s.Priority < 0 {
		return &schedulererrors.ErrMalformedSubmission{SubmissionId: s.Id, Field: "priority", Message: "must not be negative"}
	}
	return nil
}

// Eligible reports whether the submission may be considered for admission at
// time now, i.e. any requeue delay has elapsed.
func (s *Submission) Eligible(now time.Time) bool {
	return s.NotBefore.IsZero() || !now.Before(s.NotBefore)
}

// CapacitySnapshot is an ephemeral read of backend state. It is recomputed on
// every admission check and never cached, because the cluster changes
// underneath the scheduler.
type CapacitySnapshot struct {
	RunningWorkflows int
	Feasible         bool
	AvailableMemory  resource.Quantity
}

// Resource kinds tracked by the quota ledger.
const (
	ResourceConcurrentJobs = "concurrent-jobs"
	ResourceCpuSeconds     = "cpu-seconds"
	ResourceDiskBytes      = "disk-bytes"
)

// QuotaAccount is a read-only view of one owner's ledger.
type QuotaAccount struct {
	Owner  string
	Limits map[string]int64
	Used   map[string]int64
}
