// Package schedulererrors contains the typed errors produced by the workflow
// scheduler core. The scheduling loop routes submissions by classifying these
// as transient (retried up to the requeue budget) or terminal (surfaced as an
// observable FailedTerminal transition, never retried).
//
// If multiple errors occur in some function (e.g., several invalid
// configuration values), that function should return an error of type
// multierror.Error from github.com/hashicorp/go-multierror that encapsulates
// the individual errors.
package schedulererrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidConfiguration indicates a malformed scheduling setting.
// It is only ever produced at startup and is always fatal: irregular numeric
// configuration must never be coerced into an unintended default.
type ErrInvalidConfiguration struct {
	Name    string // Setting name, e.g. "requeueCount"
	Value   interface{}
	Message string
}

func (err *ErrInvalidConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration value %v for %s; %s", err.Value, err.Name, err.Message)
}

// ErrMalformedSubmission indicates a submission missing required fields.
// Terminal: retrying cannot make a malformed submission well-formed.
type ErrMalformedSubmission struct {
	SubmissionId string // May be empty if the id itself is missing
	Field        string
	Message      string
}

func (err *ErrMalformedSubmission) Error() (s string) {
	if err.SubmissionId != "" {
		s = fmt.Sprintf("malformed submission %s: field %q %s", err.SubmissionId, err.Field, err.Message)
	} else {
		s = fmt.Sprintf("malformed submission: field %q %s", err.Field, err.Message)
	}
	return
}

// ErrQuotaExceeded indicates the owner's quota cannot accommodate the
// submission. Terminal: quota exhaustion is resource policy, not a transient
// cluster condition, so it is reported to the owner rather than silently
// retried forever.
type ErrQuotaExceeded struct {
	Owner     string
	Resource  string // Resource kind, e.g. "concurrent-jobs"
	Requested int64
	Used      int64
	Limit     int64
}

func (err *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf(
		"quota exceeded for user %s on resource %s: requested %d with %d of %d used",
		err.Owner, err.Resource, err.Requested, err.Used, err.Limit,
	)
}

// ErrCapacityUnavailable indicates the cluster cannot currently fit the
// submission. Transient: retried up to the configured requeue budget.
type ErrCapacityUnavailable struct {
	Check   string // Name of the admission check that denied
	Message string
}

func (err *ErrCapacityUnavailable) Error() string {
	return fmt.Sprintf("cluster capacity unavailable (%s): %s", err.Check, err.Message)
}

// ErrDispatchFailure indicates the backend rejected a job submission call.
// Retriable is false when the backend classified the request as invalid,
// e.g. a memory hint above the hard cluster ceiling.
type ErrDispatchFailure struct {
	SubmissionId string
	Retriable    bool
	Message      string
}

func (err *ErrDispatchFailure) Error() string {
	kind := "transient"
	if !err.Retriable {
		kind = "invalid request"
	}
	return fmt.Sprintf("dispatch of %s failed (%s): %s", err.SubmissionId, kind, err.Message)
}

// ErrRetryBudgetExhausted indicates a submission failed transiently more
// times than the configured requeue count allows. Terminal, always reported.
type ErrRetryBudgetExhausted struct {
	SubmissionId string
	Retries      int
}

func (err *ErrRetryBudgetExhausted) Error() string {
	return fmt.Sprintf("submission %s exhausted its retry budget after %d requeues", err.SubmissionId, err.Retries)
}

// IsTransient reports whether err should be retried by the requeue manager.
// Unrecognized errors are treated as transient, so that e.g. network errors
// reaching the backend never terminally fail a workflow.
func IsTransient(err error) bool {
	var capacityErr *ErrCapacityUnavailable
	if errors.As(err, &capacityErr) {
		return true
	}
	var dispatchErr *ErrDispatchFailure
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Retriable
	}
	return !IsTerminal(err)
}

// IsTerminal reports whether err must surface as a FailedTerminal transition.
func IsTerminal(err error) bool {
	var malformedErr *ErrMalformedSubmission
	if errors.As(err, &malformedErr) {
		return true
	}
	var quotaErr *ErrQuotaExceeded
	if errors.As(err, &quotaErr) {
		return true
	}
	var budgetErr *ErrRetryBudgetExhausted
	if errors.As(err, &budgetErr) {
		return true
	}
	var dispatchErr *ErrDispatchFailure
	if errors.As(err, &dispatchErr) {
		return !dispatchErr.Retriable
	}
	return false
}
