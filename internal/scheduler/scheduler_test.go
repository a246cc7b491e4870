package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/internal/common/util"
	"github.com/kounelisagis/reana-server/internal/scheduler/backend"
	"github.com/kounelisagis/reana-server/internal/scheduler/checks"
	"github.com/kounelisagis/reana-server/internal/scheduler/configuration"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

const testMaxRequeueCount = 3

func TestRunOnce_EmptyQueue(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.False(t, progressed)
	})
}

func TestRunOnce_DispatchesHeadOfQueue(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		require.NoError(t, f.queue.Enqueue(submission("a", "alice")))

		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)

		require.Len(t, f.backend.Submitted, 1)
		assert.Equal(t, "a", f.backend.Submitted[0].Id)

		size, err := f.queue.Size()
		require.NoError(t, err)
		assert.Equal(t, int64(0), size)

		count, err := f.running.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		events := f.reporter.EventsWithPhase(workflow.PhaseDispatched)
		require.Len(t, events, 1)
		assert.Equal(t, "run-batch-a", events[0].JobRef)

		account, err := f.ledger.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestRunOnce_TransientDenialRequeuesWithDelay(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		f.backend.FeasibleResult = false
		require.NoError(t, f.queue.Enqueue(submission("a", "alice")))

		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)

		events := f.reporter.EventsWithPhase(workflow.PhaseRequeued)
		require.Len(t, events, 1)
		assert.Equal(t, 1, events[0].RetryCount)

		// Within the requeue delay nothing is eligible.
		progressed, err = f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.False(t, progressed)

		// Once the delay elapses and capacity returns, the workflow dispatches.
		f.clock.T = f.clock.T.Add(16 * time.Second)
		f.backend.FeasibleResult = true
		progressed, err = f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)
		assert.Len(t, f.backend.Submitted, 1)
	})
}

func TestRunOnce_RetryBudgetExhaustionIsTerminal(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		f.backend.FeasibleResult = false
		require.NoError(t, f.queue.Enqueue(submission("a", "alice")))

		for i := 0; i < testMaxRequeueCount; i++ {
			progressed, err := f.scheduler.RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, progressed)
			f.clock.T = f.clock.T.Add(16 * time.Second)
		}
		assert.Len(t, f.reporter.EventsWithPhase(workflow.PhaseRequeued), testMaxRequeueCount)

		// One transient failure past the budget fails the workflow terminally.
		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)

		events := f.reporter.EventsWithPhase(workflow.PhaseFailed)
		require.Len(t, events, 1)
		assert.Equal(t, "RetryBudgetExhausted", events[0].ErrorClass)

		size, err := f.queue.Size()
		require.NoError(t, err)
		assert.Equal(t, int64(0), size)
	})
}

func TestRunOnce_QuotaDenialIsTerminal(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		require.NoError(t, f.ledger.SetLimits("alice", map[string]int64{workflow.ResourceConcurrentJobs: 0}))
		require.NoError(t, f.queue.Enqueue(submission("a", "alice")))

		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)

		events := f.reporter.EventsWithPhase(workflow.PhaseFailed)
		require.Len(t, events, 1)
		assert.Equal(t, "QuotaExceeded", events[0].ErrorClass)
		// Terminal denials never consume the retry budget.
		assert.Equal(t, 0, events[0].RetryCount)

		size, err := f.queue.Size()
		require.NoError(t, err)
		assert.Equal(t, int64(0), size)
		assert.Empty(t, f.backend.Submitted)
	})
}

func TestRunOnce_MemoryHintAboveCeilingIsTerminal(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		sub := submission("a", "alice")
		sub.ResourceHints.MinJobMemory = resource.MustParse("32Gi")
		require.NoError(t, f.queue.Enqueue(sub))

		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)

		events := f.reporter.EventsWithPhase(workflow.PhaseFailed)
		require.Len(t, events, 1)
		assert.Equal(t, "BackendDispatchFailure", events[0].ErrorClass)
		assert.Empty(t, f.backend.Submitted)

		// The reservation made before dispatch was rolled back.
		account, err := f.ledger.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestRunOnce_TransientDispatchFailureRequeues(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		transient := &schedulererrors.ErrDispatchFailure{SubmissionId: "a", Retriable: true, Message: "api timeout"}
		f.backend.SubmitErrs = []error{transient, transient, transient}
		require.NoError(t, f.queue.Enqueue(submission("a", "alice")))

		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)

		require.Len(t, f.reporter.EventsWithPhase(workflow.PhaseRequeued), 1)
		account, err := f.ledger.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.Used[workflow.ResourceConcurrentJobs])
	})
}

func TestRunOnce_MalformedStoredSubmissionIsTerminal(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		// A record missing its owner, e.g. written by an older version.
		require.NoError(t, f.queue.Enqueue(&workflow.Submission{Id: "a"}))

		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)

		events := f.reporter.EventsWithPhase(workflow.PhaseFailed)
		require.Len(t, events, 1)
		assert.Equal(t, "MalformedSubmission", events[0].ErrorClass)
	})
}

func TestRunOnce_ConcurrencyCeiling(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		require.NoError(t, f.queue.Enqueue(submission("a", "alice")))
		require.NoError(t, f.queue.Enqueue(submission("b", "bob")))

		progressed, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)

		// The ceiling of one admits no further workflow until a completes.
		progressed, err = f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)
		require.Len(t, f.reporter.EventsWithPhase(workflow.PhaseRequeued), 1)
		assert.Len(t, f.backend.Submitted, 1)

		_, err = f.running.Remove("a")
		require.NoError(t, err)
		f.clock.T = f.clock.T.Add(16 * time.Second)
		progressed, err = f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, progressed)
		assert.Len(t, f.backend.Submitted, 2)
	})
}

func TestWithdraw(t *testing.T) {
	withScheduler(t, func(f *fixture) {
		require.NoError(t, f.queue.Enqueue(submission("a", "alice")))

		found, err := f.scheduler.Withdraw("a", "requested by owner")
		require.NoError(t, err)
		assert.True(t, found)

		events := f.reporter.EventsWithPhase(workflow.PhaseStopped)
		require.Len(t, events, 1)
		assert.Equal(t, "requested by owner", events[0].Reason)

		size, err := f.queue.Size()
		require.NoError(t, err)
		assert.Equal(t, int64(0), size)

		found, err = f.scheduler.Withdraw("missing", "")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

type fixture struct {
	clock     *util.DummyClock
	queue     *repository.RedisSubmissionQueue
	ledger    *repository.RedisQuotaLedger
	running   *repository.RedisRunningSet
	backend   *backend.FakeBackend
	reporter  *RecordingReporter
	scheduler *Scheduler
}

func withScheduler(t *testing.T, action func(f *fixture)) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer db.Close()

	clock := &util.DummyClock{T: time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)}
	queue := repository.NewRedisSubmissionQueue(db, configuration.PolicyFifo).WithClock(clock)
	ledger := repository.NewRedisQuotaLedger(db, nil)
	running := repository.NewRedisRunningSet(db)
	fakeBackend := backend.NewFakeBackend()
	reporter := &RecordingReporter{}

	kubernetesConfig := configuration.KubernetesConfig{
		Namespace:              "reana",
		JobsMemoryLimit:        resource.MustParse("4Gi"),
		JobsMaxUserMemoryLimit: resource.MustParse("16Gi"),
		DispatchTimeout:        5 * time.Second,
	}

	controller := checks.ForReadinessLevel(
		configuration.ReadinessLevelAllChecks, running, ledger, fakeBackend, 1,
	)
	dispatcher := NewDispatcher(fakeBackend, ledger, running, reporter, kubernetesConfig)
	requeue := NewRequeueManager(queue, reporter, testMaxRequeueCount, 15*time.Second)

	action(&fixture{
		clock:     clock,
		queue:     queue,
		ledger:    ledger,
		running:   running,
		backend:   fakeBackend,
		reporter:  reporter,
		scheduler: NewScheduler(queue, running, controller, dispatcher, requeue, reporter, time.Millisecond),
	})
}

func submission(id string, owner string) *workflow.Submission {
	return &workflow.Submission{Id: id, Owner: owner, SpecRef: "cwl:" + id}
}
