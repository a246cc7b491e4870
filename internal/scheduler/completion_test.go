package scheduler

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kounelisagis/reana-server/internal/scheduler/checks"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

func TestHandleCompletion_ReleasesQuotaAndRunningSlot(t *testing.T) {
	withCompletionWatcher(t, func(w *CompletionWatcher, running *repository.RedisRunningSet, ledger *repository.RedisQuotaLedger) {
		sub := submission("a", "alice")
		require.NoError(t, ledger.Reserve("alice", checks.QuotaDeltas(sub)))
		require.NoError(t, running.Add(sub, time.Now()))

		err := w.HandleCompletion(&workflow.StatusEvent{WorkflowId: "a", Phase: workflow.PhaseFinished})
		require.NoError(t, err)

		count, err := running.Count()
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		account, err := ledger.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestHandleCompletion_DuplicateEventIsNoOp(t *testing.T) {
	withCompletionWatcher(t, func(w *CompletionWatcher, running *repository.RedisRunningSet, ledger *repository.RedisQuotaLedger) {
		sub := submission("a", "alice")
		require.NoError(t, ledger.Reserve("alice", checks.QuotaDeltas(sub)))
		require.NoError(t, running.Add(sub, time.Now()))

		event := &workflow.StatusEvent{WorkflowId: "a", Phase: workflow.PhaseStopped}
		require.NoError(t, w.HandleCompletion(event))
		require.NoError(t, w.HandleCompletion(event))

		// The second release must not drive usage negative.
		account, err := ledger.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestHandleCompletion_UnknownWorkflowIsNoOp(t *testing.T) {
	withCompletionWatcher(t, func(w *CompletionWatcher, running *repository.RedisRunningSet, ledger *repository.RedisQuotaLedger) {
		err := w.HandleCompletion(&workflow.StatusEvent{WorkflowId: "missing", Phase: workflow.PhaseFinished})
		require.NoError(t, err)
	})
}

func TestIsCompletion(t *testing.T) {
	assert.True(t, isCompletion(workflow.PhaseFinished))
	assert.True(t, isCompletion(workflow.PhaseFailed))
	assert.True(t, isCompletion(workflow.PhaseStopped))
	assert.False(t, isCompletion(workflow.PhaseQueued))
	assert.False(t, isCompletion(workflow.PhaseDispatched))
	assert.False(t, isCompletion(workflow.PhaseRequeued))
}

func withCompletionWatcher(t *testing.T, action func(w *CompletionWatcher, running *repository.RedisRunningSet, ledger *repository.RedisQuotaLedger)) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer db.Close()

	running := repository.NewRedisRunningSet(db)
	ledger := repository.NewRedisQuotaLedger(db, nil)
	action(NewCompletionWatcher(nil, running, ledger, "workflow-status", "completions"), running, ledger)
}
