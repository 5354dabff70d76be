package schema

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusWaiting   RunStatus = "waiting" // suspended at a delay step
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunStepStatus represents the outcome of one executed (or bypassed) step.
type RunStepStatus string

const (
	RunStepSuccess RunStepStatus = "success"
	RunStepFailed  RunStepStatus = "failed"
	RunStepSkipped RunStepStatus = "skipped"
)

// Run event type constants, published to the streaming hub and useful
// for audit queries over the run-step log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"
	EventRunWaiting   = "run_waiting"
	EventRunResumed   = "run_resumed"

	EventStepSucceeded = "step_succeeded"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"

	EventConditionEvaluated = "condition_evaluated"
	EventDelayScheduled     = "delay_scheduled"
)
