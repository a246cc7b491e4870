package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "reana_scheduler_"

var (
	ConsumedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: MetricPrefix + "consumed_messages_total",
		Help: "Number of workflow submission messages consumed",
	})

	MalformedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: MetricPrefix + "malformed_messages_total",
		Help: "Number of malformed submission messages rejected and acknowledged with an error",
	})

	DispatchedWorkflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: MetricPrefix + "dispatched_workflows_total",
		Help: "Number of workflows dispatched to the execution backend",
	})

	RequeuedWorkflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: MetricPrefix + "requeued_workflows_total",
		Help: "Number of workflow requeues after transient denials or dispatch failures",
	})

	TerminalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: MetricPrefix + "terminal_failures_total",
		Help: "Number of workflows terminally failed, by error class",
	}, []string{"class"})

	AdmissionDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: MetricPrefix + "admission_denied_total",
		Help: "Number of admission denials, by check",
	}, []string{"check"})

	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: MetricPrefix + "queue_size",
		Help: "Number of submissions waiting in the queue",
	})

	RunningWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: MetricPrefix + "running_workflows",
		Help: "Number of admitted workflows not yet reported finished",
	})
)
