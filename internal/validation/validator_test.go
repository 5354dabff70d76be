package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/expressions"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	reg := executors.NewRegistry()
	require.NoError(t, executors.RegisterBuiltins(reg, nil, nil, nil, executors.WebhookConfig{}))
	engines, err := expressions.NewRegistry()
	require.NoError(t, err)
	v, err := New(reg, engines)
	require.NoError(t, err)
	return v
}

func eventWorkflow() *store.Workflow {
	return &store.Workflow{
		ID:            "wf-1",
		Name:          "notify on task completion",
		TriggerType:   schema.TriggerEvent,
		TriggerConfig: schema.TriggerConfig{EventTypes: []string{"task_completed"}},
		Active:        true,
	}
}

func step(order int, typ schema.StepType, action schema.ActionType, config string) *store.WorkflowStep {
	return &store.WorkflowStep{
		StepOrder:  order,
		Type:       typ,
		ActionType: action,
		Config:     json.RawMessage(config),
	}
}

func hasIssue(issues []schema.ValidationIssue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func TestValidWorkflowPasses(t *testing.T) {
	v := newTestValidator(t)
	steps := []*store.WorkflowStep{
		step(1, schema.StepTypeCondition, "", `{"field":"trigger.entity.priority","operator":"equals","value":"high"}`),
		step(2, schema.StepTypeAction, schema.ActionSendEmail, `{"to":"{{task.assignee}}","body":"done"}`),
		step(3, schema.StepTypeDelay, "", `{"delay_value":5,"delay_type":"minutes"}`),
	}

	result := v.ValidateWorkflow(eventWorkflow(), steps)
	assert.True(t, result.Valid(), "unexpected errors: %+v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestMissingNameAndEventTypes(t *testing.T) {
	v := newTestValidator(t)
	wf := eventWorkflow()
	wf.Name = ""
	wf.TriggerConfig.EventTypes = nil

	result := v.ValidateWorkflow(wf, nil)
	assert.False(t, result.Valid())
	assert.True(t, hasIssue(result.Errors, CodeMissingName))
	assert.True(t, hasIssue(result.Errors, CodeBadTriggerConfig))
}

func TestScheduleTriggerCronChecked(t *testing.T) {
	v := newTestValidator(t)
	wf := eventWorkflow()
	wf.TriggerType = schema.TriggerSchedule
	wf.TriggerConfig = schema.TriggerConfig{Cron: "this is not cron"}

	result := v.ValidateWorkflow(wf, nil)
	assert.True(t, hasIssue(result.Errors, CodeBadCron))

	wf.TriggerConfig.Cron = "*/10 * * * *"
	result = v.ValidateWorkflow(wf, nil)
	assert.True(t, result.Valid())
}

func TestUnknownActionTypeRejected(t *testing.T) {
	v := newTestValidator(t)
	steps := []*store.WorkflowStep{
		step(1, schema.StepTypeAction, schema.ActionType("teleport"), `{}`),
	}

	result := v.ValidateWorkflow(eventWorkflow(), steps)
	assert.True(t, hasIssue(result.Errors, CodeUnknownAction))
}

func TestActionConfigMissingRequiredField(t *testing.T) {
	v := newTestValidator(t)
	steps := []*store.WorkflowStep{
		// send_email requires "to" and "body".
		step(1, schema.StepTypeAction, schema.ActionSendEmail, `{"subject":"hi"}`),
	}

	result := v.ValidateWorkflow(eventWorkflow(), steps)
	assert.True(t, hasIssue(result.Errors, CodeBadStepConfig))
}

func TestConditionConfigShape(t *testing.T) {
	v := newTestValidator(t)

	// Neither field/operator nor expression form.
	result := v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeCondition, "", `{"value":42}`),
	})
	assert.True(t, hasIssue(result.Errors, CodeBadStepConfig))

	// Unknown operator enum value.
	result = v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeCondition, "", `{"field":"x","operator":"sorta_equals"}`),
	})
	assert.True(t, hasIssue(result.Errors, CodeBadStepConfig))
}

func TestExpressionConditionCompileChecked(t *testing.T) {
	v := newTestValidator(t)

	result := v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeCondition, "", `{"expression":"trigger.amount >","lang":"cel"}`),
	})
	assert.True(t, hasIssue(result.Errors, CodeBadExpression))

	result = v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeCondition, "", `{"expression":"trigger.amount > 100.0","lang":"cel"}`),
	})
	assert.True(t, result.Valid(), "unexpected errors: %+v", result.Errors)
}

func TestDelayConfigChecked(t *testing.T) {
	v := newTestValidator(t)

	result := v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeDelay, "", `{"delay_value":-1,"delay_type":"minutes"}`),
	})
	assert.True(t, hasIssue(result.Errors, CodeBadStepConfig))

	result = v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeDelay, "", `{"delay_value":2,"delay_type":"fortnights"}`),
	})
	assert.True(t, hasIssue(result.Errors, CodeBadStepConfig))
}

func TestDuplicateStepOrderFlagged(t *testing.T) {
	v := newTestValidator(t)
	steps := []*store.WorkflowStep{
		step(1, schema.StepTypeDelay, "", `{"delay_value":1,"delay_type":"minutes"}`),
		step(1, schema.StepTypeDelay, "", `{"delay_value":2,"delay_type":"minutes"}`),
	}

	result := v.ValidateWorkflow(eventWorkflow(), steps)
	assert.True(t, hasIssue(result.Errors, CodeDuplicateOrder))
}

func TestElseGotoTargeting(t *testing.T) {
	v := newTestValidator(t)
	dangling := 99
	misplaced := 1
	backward := 1

	condStep := step(2, schema.StepTypeCondition, "", `{"field":"x","operator":"is_empty"}`)
	condStep.ElseGotoStep = &dangling
	result := v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeDelay, "", `{"delay_value":1,"delay_type":"minutes"}`),
		condStep,
	})
	assert.True(t, hasIssue(result.Errors, CodeDanglingGoto))

	delayStep := step(2, schema.StepTypeDelay, "", `{"delay_value":1,"delay_type":"minutes"}`)
	delayStep.ElseGotoStep = &misplaced
	result = v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeDelay, "", `{"delay_value":1,"delay_type":"minutes"}`),
		delayStep,
	})
	assert.True(t, hasIssue(result.Errors, CodeMisplacedGoto))

	loopStep := step(2, schema.StepTypeCondition, "", `{"field":"x","operator":"is_empty"}`)
	loopStep.ElseGotoStep = &backward
	result = v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeDelay, "", `{"delay_value":1,"delay_type":"minutes"}`),
		loopStep,
	})
	assert.True(t, result.Valid())
	assert.True(t, hasIssue(result.Warnings, CodeBackwardGoto))
	assert.False(t, hasIssue(result.Warnings, CodeSelfReferenceGoto))

	selfTarget := 2
	selfStep := step(2, schema.StepTypeCondition, "", `{"field":"x","operator":"is_empty"}`)
	selfStep.ElseGotoStep = &selfTarget
	result = v.ValidateWorkflow(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeDelay, "", `{"delay_value":1,"delay_type":"minutes"}`),
		selfStep,
	})
	assert.True(t, result.Valid())
	assert.True(t, hasIssue(result.Warnings, CodeSelfReferenceGoto))
}

func TestActivationRejectsZeroSteps(t *testing.T) {
	v := newTestValidator(t)

	result := v.ValidateActivation(eventWorkflow(), nil)
	assert.False(t, result.Valid())
	assert.True(t, hasIssue(result.Errors, CodeNoSteps))

	// With a step the same workflow activates cleanly.
	result = v.ValidateActivation(eventWorkflow(), []*store.WorkflowStep{
		step(1, schema.StepTypeDelay, "", `{"delay_value":1,"delay_type":"minutes"}`),
	})
	assert.True(t, result.Valid(), "unexpected errors: %+v", result.Errors)
}

func TestConfigValidatorCachesCompiledSchemas(t *testing.T) {
	reg := executors.NewRegistry()
	require.NoError(t, executors.RegisterBuiltins(reg, nil, nil, nil, executors.WebhookConfig{}))
	cv, err := NewConfigValidator(reg)
	require.NoError(t, err)

	require.NoError(t, cv.ValidateActionConfig(schema.ActionSendEmail, json.RawMessage(`{"to":"a@b.c","body":"x"}`)))
	require.NoError(t, cv.ValidateActionConfig(schema.ActionSendEmail, json.RawMessage(`{"to":"a@b.c","body":"y"}`)))

	cv.mu.RLock()
	_, cached := cv.cache[schema.ActionSendEmail]
	cv.mu.RUnlock()
	assert.True(t, cached)
}
