package checks

import (
	"context"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

// QuotaDeltas returns the ledger mutation dispatching sub implies: one
// concurrent job, plus zero-delta headroom assertions for the accrued
// resource kinds, which must not already be exhausted.
func QuotaDeltas(sub *workflow.Submission) map[string]int64 {
	return map[string]int64{
		workflow.ResourceConcurrentJobs: 1,
		workflow.ResourceCpuSeconds:     0,
		workflow.ResourceDiskBytes:      0,
	}
}

// QuotaCheck denies admission when the owner's quota cannot accommodate the
// submission. The deny is terminal: quota exhaustion is resource policy, not
// a condition that retrying resolves. The check itself is a read-only probe;
// the authoritative atomic reservation is made by the dispatcher, which can
// still deny under a concurrent-admission race.
type QuotaCheck struct {
	ledger repository.QuotaLedger
}

func NewQuotaCheck(ledger repository.QuotaLedger) *QuotaCheck {
	return &QuotaCheck{ledger: ledger}
}

func (c *QuotaCheck) Name() string {
	return "quota-availability"
}

func (c *QuotaCheck) Evaluate(ctx context.Context, sub *workflow.Submission) (Verdict, error) {
	account, err := c.ledger.GetAccount(sub.Owner)
	if err != nil {
		return Verdict{}, err
	}
	for kind, delta := range QuotaDeltas(sub) {
		limit, limited := account.Limits[kind]
		if !limited {
			continue
		}
		used := account.Used[kind]
		if (delta > 0 && used+delta > limit) || (delta == 0 && used >= limit) {
			return DenyTerminal(&schedulererrors.ErrQuotaExceeded{
				Owner:     sub.Owner,
				Resource:  kind,
				Requested: delta,
				Used:      used,
				Limit:     limit,
			}), nil
		}
	}
	return Admit(), nil
}
