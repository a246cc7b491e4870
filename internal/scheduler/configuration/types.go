package configuration

import (
	"time"

	"github.com/go-redis/redis"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Scheduling policies governing submission queue ordering.
const (
	// PolicyFifo starts workflows strictly in arrival order.
	PolicyFifo = "fifo"
	// PolicyBalanced orders by complexity-derived priority, falling back to
	// arrival order within a priority class.
	PolicyBalanced = "balanced"
)

// Readiness check levels controlling which admission checks run.
const (
	ReadinessLevelNoChecks   = 0
	ReadinessLevelConcurrent = 1
	ReadinessLevelMemory     = 2
	ReadinessLevelAllChecks  = 9
)

type SchedulerConfig struct {
	MetricsPort uint16
	HealthPort  uint16

	Redis redis.UniversalOptions
	Nats  NatsConfig

	Scheduling SchedulingConfig
	Kubernetes KubernetesConfig
	Quotas     QuotaConfig
}

type NatsConfig struct {
	Servers   []string
	ClusterId string
	// QueueGroup names the durable queue group shared by scheduler replicas.
	QueueGroup string
	// SubmissionSubject carries inbound workflow-submission messages.
	SubmissionSubject string
	// StatusSubject carries workflow state transition events, both published
	// by the scheduler and consumed for completions.
	StatusSubject string
}

type SchedulingConfig struct {
	// Policy is the queue ordering strategy: fifo or balanced.
	Policy string
	// ReadinessCheckLevel selects the admission checks to run:
	// 0 none, 1 concurrency only, 2 memory feasibility only, 9 all.
	ReadinessCheckLevel int
	// MaxConcurrentWorkflows bounds the number of admitted-but-not-finished
	// workflows across the cluster.
	MaxConcurrentWorkflows int
	// RequeueCount is the retry budget per submission for transient failures.
	RequeueCount int
	// RequeueSleep is how long a requeued submission stays ineligible.
	RequeueSleep time.Duration
	// ConsumeInterval is how long the loop sleeps when the queue is empty or
	// the head of the queue is not yet eligible.
	ConsumeInterval time.Duration
	// DefaultPriority is assigned to submissions that carry none.
	DefaultPriority int64
}

type KubernetesConfig struct {
	// InClusterDeployment toggles in-cluster config over kubeconfig.
	InClusterDeployment      bool
	KubernetesConfigLocation string
	// Namespace that workflow jobs are created in.
	Namespace string
	// JobsMemoryLimit is the per-job memory assumed for submissions without
	// a minimum-memory hint, used for feasibility probing.
	JobsMemoryLimit resource.Quantity
	// JobsMaxUserMemoryLimit is the hard ceiling on user memory hints.
	// Submissions above it fail validation before any dispatch attempt.
	JobsMaxUserMemoryLimit resource.Quantity
	// DispatchTimeout bounds every backend call; timeouts are transient.
	DispatchTimeout time.Duration
}

type QuotaConfig struct {
	// DefaultLimits seed the ledger for owners without explicit limits.
	// A kind that is absent is not enforced for such owners.
	DefaultLimits map[string]int64
}
