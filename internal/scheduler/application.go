package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis"
	stan "github.com/nats-io/stan.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kounelisagis/reana-server/internal/common/health"
	"github.com/kounelisagis/reana-server/internal/common/task"
	"github.com/kounelisagis/reana-server/internal/common/util"
	"github.com/kounelisagis/reana-server/internal/scheduler/backend"
	"github.com/kounelisagis/reana-server/internal/scheduler/checks"
	"github.com/kounelisagis/reana-server/internal/scheduler/configuration"
	"github.com/kounelisagis/reana-server/internal/scheduler/metrics"
	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
)

// Serve wires the scheduler together and runs it until the context is
// cancelled: Redis-backed repositories, the Kubernetes backend, the admission
// controller for the configured readiness level, the NATS Streaming consumer
// and completion watcher, and the scheduling loop itself.
func Serve(ctx context.Context, config *configuration.SchedulerConfig, healthChecks *health.MultiChecker) error {
	if err := config.Validate(); err != nil {
		return errors.Wrap(err, "invalid scheduler configuration")
	}

	g, ctx := errgroup.WithContext(ctx)

	db := redis.NewUniversalClient(&config.Redis)
	defer db.Close()
	healthChecks.Add(repository.NewRedisHealth(db))

	conn, err := stan.Connect(
		config.Nats.ClusterId,
		"reana-scheduler-"+util.NewULID(),
		stan.NatsURL(strings.Join(config.Nats.Servers, ",")),
	)
	if err != nil {
		return errors.Wrapf(err, "error connecting to nats streaming cluster %s", config.Nats.ClusterId)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).Error("failed to close nats streaming connection")
		}
	}()

	queue := repository.NewRedisSubmissionQueue(db, config.Scheduling.Policy)
	ledger := repository.NewRedisQuotaLedger(db, config.Quotas.DefaultLimits)
	running := repository.NewRedisRunningSet(db)

	executionBackend, err := backend.NewKubernetesBackend(config.Kubernetes)
	if err != nil {
		return err
	}

	controller := checks.ForReadinessLevel(
		config.Scheduling.ReadinessCheckLevel,
		running,
		ledger,
		executionBackend,
		config.Scheduling.MaxConcurrentWorkflows,
	)
	log.Infof("admission checks: %s", strings.Join(controller.CheckNames(), ", "))

	reporter := NewStanReporter(conn, config.Nats.StatusSubject)
	dispatcher := NewDispatcher(executionBackend, ledger, running, reporter, config.Kubernetes)
	requeue := NewRequeueManager(queue, reporter, config.Scheduling.RequeueCount, config.Scheduling.RequeueSleep)
	loop := NewScheduler(queue, running, controller, dispatcher, requeue, reporter, config.Scheduling.ConsumeInterval)

	consumer := NewSubmissionConsumer(
		conn, queue, reporter,
		config.Nats.SubmissionSubject,
		config.Nats.QueueGroup,
		config.Scheduling.DefaultPriority,
	)
	if err := consumer.Start(); err != nil {
		return err
	}
	defer stop(consumer.Stop, "submission consumer")

	// Completions need their own durable group so both subscriptions on the
	// status subject keep independent positions.
	watcher := NewCompletionWatcher(
		conn, running, ledger,
		config.Nats.StatusSubject,
		config.Nats.QueueGroup+"-completions",
	)
	if err := watcher.Start(); err != nil {
		return err
	}
	defer stop(watcher.Stop, "completion watcher")

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix)
	defer taskManager.StopAll(5 * time.Second)
	taskManager.Register(loop.refreshGauges, 30*time.Second, "metrics_refresh")

	g.Go(func() error { return loop.Run(ctx) })
	return g.Wait()
}

func stop(stopFn func() error, name string) {
	if err := stopFn(); err != nil {
		log.WithError(err).Errorf("failed to stop %s", name)
	}
}
