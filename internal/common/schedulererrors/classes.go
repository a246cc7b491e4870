package schedulererrors

import "github.com/pkg/errors"

// Error class names surfaced in status events and metrics.
const (
	ClassInvalidConfiguration   = "InvalidConfiguration"
	ClassMalformedSubmission    = "MalformedSubmission"
	ClassQuotaExceeded          = "QuotaExceeded"
	ClassCapacityUnavailable    = "CapacityUnavailable"
	ClassBackendDispatchFailure = "BackendDispatchFailure"
	ClassRetryBudgetExhausted   = "RetryBudgetExhausted"
	ClassUnknown                = "Unknown"
)

// Class maps err onto its taxonomy class name.
func Class(err error) string {
	var configurationErr *ErrInvalidConfiguration
	if errors.As(err, &configurationErr) {
		return ClassInvalidConfiguration
	}
	var malformedErr *ErrMalformedSubmission
	if errors.As(err, &malformedErr) {
		return ClassMalformedSubmission
	}
	var quotaErr *ErrQuotaExceeded
	if errors.As(err, &quotaErr) {
		return ClassQuotaExceeded
	}
	var capacityErr *ErrCapacityUnavailable
	if errors.As(err, &capacityErr) {
		return ClassCapacityUnavailable
	}
	var dispatchErr *ErrDispatchFailure
	if errors.As(err, &dispatchErr) {
		return ClassBackendDispatchFailure
	}
	var budgetErr *ErrRetryBudgetExhausted
	if errors.As(err, &budgetErr) {
		return ClassRetryBudgetExhausted
	}
	return ClassUnknown
}
