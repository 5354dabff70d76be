package store

import (
	"encoding/json"
	"time"

	"github.com/arclight-io/conveyor/pkg/schema"
)

// Workflow is a stored automation definition: trigger + ordered steps.
// Created and edited by the management surface; the engine only ever
// flips Active and maintains the schedule bookkeeping fields.
type Workflow struct {
	ID            string               `json:"id"`
	OrgID         string               `json:"organization_id"`
	Name          string               `json:"name"`
	Description   string               `json:"description,omitempty"`
	TriggerType   schema.TriggerType   `json:"trigger_type"`
	TriggerConfig schema.TriggerConfig `json:"trigger_config"`
	Active        bool                 `json:"active"`
	CreatedBy     string               `json:"created_by,omitempty"`
	LastRunAt     *time.Time           `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time           `json:"next_run_at,omitempty"` // schedule triggers only
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// WorkflowStep is one instruction within a workflow. StepOrder is the
// sole sequencing authority; the engine rejects duplicate orders before
// starting a run.
type WorkflowStep struct {
	ID           string            `json:"id"`
	WorkflowID   string            `json:"workflow_id"`
	StepOrder    int               `json:"step_order"`
	Type         schema.StepType   `json:"step_type"`
	ActionType   schema.ActionType `json:"action_type,omitempty"` // action steps only
	Config       json.RawMessage   `json:"config,omitempty"`
	ElseGotoStep *int              `json:"else_goto_step,omitempty"` // condition steps only
	CreatedAt    time.Time         `json:"created_at"`
}

// WorkflowRun is one execution instance. Context, Cursor, and ResumeAt
// together are sufficient to resume a suspended or interrupted run.
type WorkflowRun struct {
	ID           string           `json:"id"`
	WorkflowID   string           `json:"workflow_id"`
	OrgID        string           `json:"organization_id"`
	Status       schema.RunStatus `json:"status"`
	Context      json.RawMessage  `json:"context,omitempty"`
	Cursor       int              `json:"cursor"`
	ResumeAt     *time.Time       `json:"resume_at,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// WorkflowRunStep is one executed (or bypassed) step within a run.
// Append-only; Sequence increases monotonically per run.
type WorkflowRunStep struct {
	ID         int64                `json:"id"`
	RunID      string               `json:"run_id"`
	StepOrder  int                  `json:"step_order"`
	Type       schema.StepType      `json:"step_type"`
	ActionType schema.ActionType    `json:"action_type,omitempty"`
	Status     schema.RunStepStatus `json:"status"`
	Input      json.RawMessage      `json:"input,omitempty"`
	Output     json.RawMessage      `json:"output,omitempty"`
	Error      string               `json:"error,omitempty"`
	DurationMs int64                `json:"duration_ms,omitempty"`
	Sequence   int64                `json:"sequence"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Entity is a generic org-scoped business record (task, project, ...)
// created or updated by action executors.
type Entity struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"organization_id"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	OrgID       string              `json:"organization_id,omitempty"`
	TriggerType *schema.TriggerType `json:"trigger_type,omitempty"`
	Active      *bool               `json:"active,omitempty"`
	Limit       int                 `json:"limit,omitempty"`
	Offset      int                 `json:"offset,omitempty"`
}

// WorkflowUpdate specifies the workflow fields the engine side may mutate.
type WorkflowUpdate struct {
	Active    *bool      `json:"active,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status        *schema.RunStatus `json:"status,omitempty"`
	Context       json.RawMessage   `json:"context,omitempty"`
	Cursor        *int              `json:"cursor,omitempty"`
	ResumeAt      *time.Time        `json:"resume_at,omitempty"`
	ClearResumeAt bool              `json:"clear_resume_at,omitempty"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	WorkflowID string            `json:"workflow_id,omitempty"`
	OrgID      string            `json:"organization_id,omitempty"`
	Status     *schema.RunStatus `json:"status,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}
