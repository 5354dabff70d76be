package executors

import (
	"context"
	"encoding/json"

	"github.com/arclight-io/conveyor/pkg/schema"
)

// --- JSON Schemas ---

const createTaskInputSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "description": {"type": "string"},
    "assignee_id": {"type": "string"},
    "due_date": {"type": "string"},
    "project_id": {"type": "string"}
  },
  "required": ["title"]
}`

const updateTaskInputSchema = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "string"},
    "fields": {"type": "object"}
  },
  "required": ["task_id", "fields"]
}`

const createProjectInputSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "owner_id": {"type": "string"}
  },
  "required": ["name"]
}`

// --- CreateTaskExecutor ---

// CreateTaskExecutor implements the "create_task" action.
type CreateTaskExecutor struct {
	entities EntityService
}

// NewCreateTaskExecutor creates a create_task executor.
func NewCreateTaskExecutor(entities EntityService) *CreateTaskExecutor {
	return &CreateTaskExecutor{entities: entities}
}

func (e *CreateTaskExecutor) Name() schema.ActionType { return schema.ActionCreateTask }

func (e *CreateTaskExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Create a task record from resolved config fields.",
		InputSchema: json.RawMessage(createTaskInputSchema),
	}
}

func (e *CreateTaskExecutor) Validate(config map[string]any) error {
	if stringParam(config, "title", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "create_task: missing required param 'title'")
	}
	return nil
}

func (e *CreateTaskExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	rec, err := e.entities.Create(ctx, input.OrgID, "task", input.Config)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "create_task: %s", err.Error()).WithCause(err)
	}

	return &Output{Data: map[string]any{
		"task_id": rec.ID,
		"title":   stringParam(input.Config, "title", ""),
	}}, nil
}

// --- UpdateTaskExecutor ---

// UpdateTaskExecutor implements the "update_task" action.
// Config carries the task_id (usually a {{step_N.task_id}} reference) and a
// fields object merged into the existing record.
type UpdateTaskExecutor struct {
	entities EntityService
}

// NewUpdateTaskExecutor creates an update_task executor.
func NewUpdateTaskExecutor(entities EntityService) *UpdateTaskExecutor {
	return &UpdateTaskExecutor{entities: entities}
}

func (e *UpdateTaskExecutor) Name() schema.ActionType { return schema.ActionUpdateTask }

func (e *UpdateTaskExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Merge fields into an existing task record.",
		InputSchema: json.RawMessage(updateTaskInputSchema),
	}
}

func (e *UpdateTaskExecutor) Validate(config map[string]any) error {
	if stringParam(config, "task_id", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "update_task: missing required param 'task_id'")
	}
	if mapParam(config, "fields") == nil {
		return schema.NewError(schema.ErrCodeValidation, "update_task: missing required param 'fields'")
	}
	return nil
}

func (e *UpdateTaskExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	taskID := stringParam(input.Config, "task_id", "")
	fields := mapParam(input.Config, "fields")

	rec, err := e.entities.Update(ctx, input.OrgID, "task", taskID, fields)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "update_task: %s", err.Error()).WithCause(err)
	}

	return &Output{Data: map[string]any{"task_id": rec.ID, "updated": true}}, nil
}

// --- CreateProjectExecutor ---

// CreateProjectExecutor implements the "create_project" action.
type CreateProjectExecutor struct {
	entities EntityService
}

// NewCreateProjectExecutor creates a create_project executor.
func NewCreateProjectExecutor(entities EntityService) *CreateProjectExecutor {
	return &CreateProjectExecutor{entities: entities}
}

func (e *CreateProjectExecutor) Name() schema.ActionType { return schema.ActionCreateProject }

func (e *CreateProjectExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Create a project record from resolved config fields.",
		InputSchema: json.RawMessage(createProjectInputSchema),
	}
}

func (e *CreateProjectExecutor) Validate(config map[string]any) error {
	if stringParam(config, "name", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "create_project: missing required param 'name'")
	}
	return nil
}

func (e *CreateProjectExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	rec, err := e.entities.Create(ctx, input.OrgID, "project", input.Config)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "create_project: %s", err.Error()).WithCause(err)
	}

	return &Output{Data: map[string]any{
		"project_id": rec.ID,
		"name":       stringParam(input.Config, "name", ""),
	}}, nil
}
