package checks

import (
	"github.com/kounelisagis/reana-server/internal/scheduler/backend"
	"github.com/kounelisagis/reana-server/internal/scheduler/configuration"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
)

// ForReadinessLevel assembles the admission check list for the configured
// readiness check level:
//
//	0 — no checks; admit as soon as submissions arrive
//	1 — concurrency ceiling only
//	2 — backend memory feasibility only
//	9 — all checks
//
// Cheap checks come before the backend probe so denials short-circuit early.
func ForReadinessLevel(
	level int,
	running repository.RunningSet,
	ledger repository.QuotaLedger,
	b backend.Backend,
	maxConcurrentWorkflows int,
) *AdmissionController {
	switch level {
	case configuration.ReadinessLevelNoChecks:
		return NewAdmissionController()
	case configuration.ReadinessLevelConcurrent:
		return NewAdmissionController(
			NewConcurrencyCheck(running, maxConcurrentWorkflows),
		)
	case configuration.ReadinessLevelMemory:
		return NewAdmissionController(
			NewFeasibilityCheck(b),
		)
	default:
		return NewAdmissionController(
			NewConcurrencyCheck(running, maxConcurrentWorkflows),
			NewQuotaCheck(ledger),
			NewFeasibilityCheck(b),
		)
	}
}
