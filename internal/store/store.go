package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Steps (ordered by step_order ASC, insertion order as tiebreak)
	CreateStep(ctx context.Context, step *WorkflowStep) error
	ListSteps(ctx context.Context, workflowID string) ([]*WorkflowStep, error)

	// Runs
	CreateRun(ctx context.Context, run *WorkflowRun) error
	GetRun(ctx context.Context, id string) (*WorkflowRun, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*WorkflowRun, error)
	ListDueRuns(ctx context.Context, now time.Time, limit int) ([]*WorkflowRun, error)

	// Run step log (append-only audit trail)
	AppendRunStep(ctx context.Context, rs *WorkflowRunStep) error
	ListRunSteps(ctx context.Context, runID string) ([]*WorkflowRunStep, error)

	// Generic org-scoped entities (task, project, ...)
	CreateEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, orgID, kind, id string) (*Entity, error)
	UpdateEntity(ctx context.Context, orgID, kind, id string, data json.RawMessage) (*Entity, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
