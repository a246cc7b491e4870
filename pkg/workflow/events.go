package workflow

import "time"

// EventPhase classifies a status event on the workflow status subject.
type EventPhase string

const (
	PhaseQueued     EventPhase = "queued"
	PhaseRequeued   EventPhase = "requeued"
	PhaseDispatched EventPhase = "dispatched"
	PhaseFailed     EventPhase = "failed"

	// Phases reported by external collaborators once a workflow has been
	// handed over to the backend.
	PhaseFinished EventPhase = "finished"
	PhaseStopped  EventPhase = "stopped"
)

// StatusEvent is the JSON document published on the status subject for every
// state transition. Terminal transitions are never skipped: a submission
// leaves the scheduler's ownership only through a dispatched, failed or
// consumed-completion event.
type StatusEvent struct {
	WorkflowId string     `json:"workflowId"`
	Owner      string     `json:"owner"`
	Phase      EventPhase `json:"phase"`
	// Reason is a human-readable explanation for requeues and failures.
	Reason string `json:"reason,omitempty"`
	// ErrorClass names the error taxonomy class for failed events,
	// e.g. "QuotaExceeded" or "RetryBudgetExhausted".
	ErrorClass string `json:"errorClass,omitempty"`
	// JobRef is the backend job reference for dispatched events.
	JobRef     string    `json:"jobRef,omitempty"`
	RetryCount int       `json:"retryCount,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SubmissionMessage is the inbound wire document consumed from the
// submission subject, one message at a time.
type SubmissionMessage struct {
	Id                 string            `json:"id"`
	Owner              string            `json:"owner"`
	Priority           *int64            `json:"priority,omitempty"`
	SpecRef            string            `json:"specRef"`
	MinJobMemory       string            `json:"minJobMemory,omitempty"`
	OperationalOptions map[string]string `json:"operationalOptions,omitempty"`
}
