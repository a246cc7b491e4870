package backend

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	batchv1 "k8s.io/api/batch/v1"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kounelisagis/reana-server/internal/common/schedulererrors"
	"github.com/kounelisagis/reana-server/internal/scheduler/configuration"
	"github.com/kounelisagis/reana-server/pkg/workflow"
)

const (
	// componentLabel marks the batch jobs this scheduler creates, so that
	// feasibility probes can count them without seeing unrelated workloads.
	componentLabel = "reana.io/component"
	componentValue = "run-batch"

	workflowIdLabel    = "reana.io/workflow-id"
	ownerLabel         = "reana.io/owner"
	priorityAnnotation = "reana.io/priority"
	specRefAnnotation  = "reana.io/spec-ref"

	batchJobImage = "reanahub/reana-workflow-engine"
)

// KubernetesBackend probes and submits against a Kubernetes cluster.
type KubernetesBackend struct {
	clientset kubernetes.Interface
	config    configuration.KubernetesConfig
}

func NewKubernetesBackend(config configuration.KubernetesConfig) (*KubernetesBackend, error) {
	var restConfig *rest.Config
	var err error
	if config.InClusterDeployment {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", config.KubernetesConfigLocation)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error building kubernetes client config")
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Wrap(err, "error creating kubernetes client")
	}
	return NewKubernetesBackendWithClientset(clientset, config), nil
}

func NewKubernetesBackendWithClientset(clientset kubernetes.Interface, config configuration.KubernetesConfig) *KubernetesBackend {
	return &KubernetesBackend{clientset: clientset, config: config}
}

// Feasibility lists schedulable nodes and their non-terminal pods and checks
// whether any node has minJobMemory of allocatable memory left over.
func (b *KubernetesBackend) Feasibility(ctx context.Context, minJobMemory resource.Quantity) (*workflow.CapacitySnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.DispatchTimeout)
	defer cancel()

	if minJobMemory.IsZero() {
		minJobMemory = b.config.JobsMemoryLimit
	}

	nodes, err := b.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "error listing nodes")
	}
	pods, err := b.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "error listing pods")
	}

	allocatedByNode := map[string]*resource.Quantity{}
	for i := range pods.Items {
		pod := &pods.Items[i]
		if isFinished(pod) || pod.Spec.NodeName == "" {
			continue
		}
		allocated, ok := allocatedByNode[pod.Spec.NodeName]
		if !ok {
			allocated = &resource.Quantity{}
			allocatedByNode[pod.Spec.NodeName] = allocated
		}
		allocated.Add(podMemoryRequest(pod))
	}

	snapshot := &workflow.CapacitySnapshot{}
	for i := range nodes.Items {
		node := &nodes.Items[i]
		if node.Spec.Unschedulable {
			continue
		}
		available := node.Status.Allocatable.Memory().DeepCopy()
		if allocated, ok := allocatedByNode[node.Name]; ok {
			available.Sub(*allocated)
		}
		if available.Sign() > 0 {
			snapshot.AvailableMemory.Add(available)
		}
		if available.Cmp(minJobMemory) >= 0 {
			snapshot.Feasible = true
		}
	}

	running, err := b.countWorkflowJobs(ctx)
	if err != nil {
		return nil, err
	}
	snapshot.RunningWorkflows = running
	return snapshot, nil
}

func (b *KubernetesBackend) countWorkflowJobs(ctx context.Context) (int, error) {
	selector := fmt.Sprintf("%s=%s", componentLabel, componentValue)
	jobs, err := b.clientset.BatchV1().Jobs(b.config.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return 0, errors.Wrap(err, "error listing workflow jobs")
	}
	count := 0
	for i := range jobs.Items {
		job := &jobs.Items[i]
		if job.Status.CompletionTime == nil && !jobFailed(job) {
			count++
		}
	}
	return count, nil
}

// Submit creates the batch job running the workflow engine for this
// submission, carrying priority and minimum-memory hints.
func (b *KubernetesBackend) Submit(ctx context.Context, sub *workflow.Submission) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.DispatchTimeout)
	defer cancel()

	job := b.buildJob(sub)
	created, err := b.clientset.BatchV1().Jobs(b.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return "", classifySubmitError(sub.Id, err)
	}
	return created.Name, nil
}

func (b *KubernetesBackend) StopJob(ctx context.Context, jobRef string) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.DispatchTimeout)
	defer cancel()

	propagation := metav1.DeletePropagationBackground
	err := b.clientset.BatchV1().Jobs(b.config.Namespace).Delete(ctx, jobRef, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "error deleting workflow job %s", jobRef)
	}
	return nil
}

func (b *KubernetesBackend) buildJob(sub *workflow.Submission) *batchv1.Job {
	memory := sub.ResourceHints.MinJobMemory
	if memory.IsZero() {
		memory = b.config.JobsMemoryLimit
	}

	labels := map[string]string{
		componentLabel:  componentValue,
		workflowIdLabel: sub.Id,
		ownerLabel:      sub.Owner,
	}
	annotations := map[string]string{
		priorityAnnotation: fmt.Sprintf("%d", sub.Priority),
		specRefAnnotation:  sub.SpecRef,
	}

	env := []v1.EnvVar{
		{Name: "REANA_WORKFLOW_ID", Value: sub.Id},
		{Name: "REANA_WORKFLOW_SPEC", Value: sub.SpecRef},
		{Name: "REANA_WORKFLOW_OWNER", Value: sub.Owner},
	}
	for k, v := range sub.OperationalOptions {
		env = append(env, v1.EnvVar{Name: "REANA_OPERATIONAL_OPTION_" + k, Value: v})
	}

	backoffLimit := int32(0)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "run-batch-" + sub.Id,
			Namespace:   b.config.Namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: v1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: v1.PodSpec{
					RestartPolicy: v1.RestartPolicyNever,
					Containers: []v1.Container{
						{
							Name:  "workflow-engine",
							Image: batchJobImage,
							Env:   env,
							Resources: v1.ResourceRequirements{
								Requests: v1.ResourceList{v1.ResourceMemory: memory},
								Limits:   v1.ResourceList{v1.ResourceMemory: memory},
							},
						},
					},
				},
			},
		},
	}
}

// classifySubmitError maps Kubernetes API errors onto the dispatch taxonomy:
// requests the API server rejected as invalid are terminal, everything else
// (timeouts, conflicts, server errors) is transient.
func classifySubmitError(submissionId string, err error) error {
	retriable := true
	if apierrors.IsInvalid(err) || apierrors.IsBadRequest(err) || apierrors.IsRequestEntityTooLargeError(err) {
		retriable = false
	}
	if !retriable {
		log.WithError(err).Errorf("backend rejected workflow %s as invalid", submissionId)
	}
	return &schedulererrors.ErrDispatchFailure{
		SubmissionId: submissionId,
		Retriable:    retriable,
		Message:      err.Error(),
	}
}

func isFinished(pod *v1.Pod) bool {
	return pod.Status.Phase == v1.PodSucceeded || pod.Status.Phase == v1.PodFailed
}

func jobFailed(job *batchv1.Job) bool {
	for _, condition := range job.Status.Conditions {
		if condition.Type == batchv1.JobFailed && condition.Status == v1.ConditionTrue {
			return true
		}
	}
	return false
}

func podMemoryRequest(pod *v1.Pod) resource.Quantity {
	total := resource.Quantity{}
	for i := range pod.Spec.Containers {
		if request, ok := pod.Spec.Containers[i].Resources.Requests[v1.ResourceMemory]; ok {
			total.Add(request)
		}
	}
	return total
}
