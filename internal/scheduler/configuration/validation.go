package configuration

import (
	"github.com/hashicorp/go-multierror"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
)

var validPolicies = map[string]bool{
	PolicyFifo:     true,
	PolicyBalanced: true,
}

var validReadinessLevels = map[int]bool{
	ReadinessLevelNoChecks:   true,
	ReadinessLevelConcurrent: true,
	ReadinessLevelMemory:     true,
	ReadinessLevelAllChecks:  true,
}

// Validate rejects malformed scheduling settings at startup. Every violation
// is collected so operators see all of them at once, and any violation is
// fatal: falling back to zero or an unbounded default here corrupts retry
// bookkeeping and the concurrency ceiling at runtime.
func (c *SchedulerConfig) Validate() error {
	var result *multierror.Error

	if !validPolicies[c.Scheduling.Policy] {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "scheduling.policy",
			Value:   c.Scheduling.Policy,
			Message: "must be one of fifo, balanced",
		})
	}
	if !validReadinessLevels[c.Scheduling.ReadinessCheckLevel] {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "scheduling.readinessCheckLevel",
			Value:   c.Scheduling.ReadinessCheckLevel,
			Message: "must be one of 0 (no checks), 1 (concurrent), 2 (memory), 9 (all checks)",
		})
	}
	if c.Scheduling.MaxConcurrentWorkflows <= 0 {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "scheduling.maxConcurrentWorkflows",
			Value:   c.Scheduling.MaxConcurrentWorkflows,
			Message: "must be positive",
		})
	}
	if c.Scheduling.RequeueCount < 0 {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "scheduling.requeueCount",
			Value:   c.Scheduling.RequeueCount,
			Message: "must not be negative",
		})
	}
	if c.Scheduling.RequeueSleep <= 0 {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "scheduling.requeueSleep",
			Value:   c.Scheduling.RequeueSleep,
			Message: "must be a positive duration",
		})
	}
	if c.Scheduling.ConsumeInterval <= 0 {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "scheduling.consumeInterval",
			Value:   c.Scheduling.ConsumeInterval,
			Message: "must be a positive duration",
		})
	}
	if c.Scheduling.DefaultPriority < 0 {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "scheduling.defaultPriority",
			Value:   c.Scheduling.DefaultPriority,
			Message: "must not be negative",
		})
	}
	if c.Kubernetes.DispatchTimeout <= 0 {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "kubernetes.dispatchTimeout",
			Value:   c.Kubernetes.DispatchTimeout,
			Message: "must be a positive duration",
		})
	}
	if !c.Kubernetes.JobsMaxUserMemoryLimit.IsZero() &&
		c.Kubernetes.JobsMemoryLimit.Cmp(c.Kubernetes.JobsMaxUserMemoryLimit) > 0 {
		result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
			Name:    "kubernetes.jobsMemoryLimit",
			Value:   c.Kubernetes.JobsMemoryLimit.String(),
			Message: "must not exceed kubernetes.jobsMaxUserMemoryLimit",
		})
	}
	for kind, limit := range c.Quotas.DefaultLimits {
		if limit < 0 {
			result = multierror.Append(result, &schedulererrors.ErrInvalidConfiguration{
				Name:    "quotas.defaultLimits." + kind,
				Value:   limit,
				Message: "must not be negative",
			})
		}
	}

	return result.ErrorOrNil()
}
