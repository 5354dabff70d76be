package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/internal/expressions"
	"github.com/arclight-io/conveyor/internal/store"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// Issue codes reported by the validator.
const (
	CodeMissingName       = "missing_name"
	CodeUnknownTrigger    = "unknown_trigger"
	CodeBadTriggerConfig  = "bad_trigger_config"
	CodeBadCron           = "bad_cron"
	CodeUnknownStepType   = "unknown_step_type"
	CodeUnknownAction     = "unknown_action"
	CodeBadStepConfig     = "bad_step_config"
	CodeDuplicateOrder    = "duplicate_step_order"
	CodeDanglingGoto      = "dangling_else_goto"
	CodeMisplacedGoto     = "misplaced_else_goto"
	CodeBadExpression     = "bad_expression"
	CodeNoSteps           = "no_steps"
	CodeSelfReferenceGoto = "self_reference_goto"
	CodeBackwardGoto      = "backward_goto"
)

// Validator runs the full workflow validation pipeline: structural
// checks of step configs against JSON Schema, trigger config checks per
// trigger kind, and cross-step semantic checks.
type Validator struct {
	config  *ConfigValidator
	engines *expressions.Registry
	parser  cron.Parser
}

// New creates a Validator over the given executor registry. engines may
// be nil, in which case expression-form conditions only get shape checks.
func New(registry *executors.Registry, engines *expressions.Registry) (*Validator, error) {
	config, err := NewConfigValidator(registry)
	if err != nil {
		return nil, fmt.Errorf("init config validator: %w", err)
	}
	return &Validator{
		config:  config,
		engines: engines,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}, nil
}

// ValidateWorkflow checks a workflow definition and its steps. The
// returned result carries every issue found, not just the first.
func (v *Validator) ValidateWorkflow(wf *store.Workflow, steps []*store.WorkflowStep) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if wf.Name == "" {
		result.AddError("name", CodeMissingName, "workflow name is required")
	}
	v.validateTrigger(wf, result)

	for i, step := range steps {
		v.validateStep(step, fmt.Sprintf("steps[%d]", i), result)
	}
	result.Merge(checkStepSemantics(steps))

	return result
}

// ValidateActivation runs the full workflow validation plus the checks
// that only matter when a workflow goes live: a workflow with zero
// steps cannot be activated.
func (v *Validator) ValidateActivation(wf *store.Workflow, steps []*store.WorkflowStep) *schema.ValidationResult {
	result := v.ValidateWorkflow(wf, steps)
	if len(steps) == 0 {
		result.AddError("steps", CodeNoSteps, "workflow cannot be activated with zero steps")
	}
	return result
}

func (v *Validator) validateTrigger(wf *store.Workflow, result *schema.ValidationResult) {
	switch wf.TriggerType {
	case schema.TriggerEvent:
		if len(wf.TriggerConfig.EventTypes) == 0 {
			result.AddError("trigger_config.event_types", CodeBadTriggerConfig,
				"event trigger requires at least one event type")
		}
	case schema.TriggerSchedule:
		if wf.TriggerConfig.Cron == "" {
			result.AddError("trigger_config.cron", CodeBadTriggerConfig,
				"schedule trigger requires a cron expression")
			return
		}
		if _, err := v.parser.Parse(wf.TriggerConfig.Cron); err != nil {
			result.AddError("trigger_config.cron", CodeBadCron,
				fmt.Sprintf("invalid cron expression %q: %s", wf.TriggerConfig.Cron, err.Error()))
		}
	case schema.TriggerWebhook:
		if wf.TriggerConfig.Binding == "" {
			result.AddError("trigger_config.binding", CodeBadTriggerConfig,
				"webhook trigger requires a binding")
		}
	case schema.TriggerManual:
		// No config required.
	default:
		result.AddError("trigger_type", CodeUnknownTrigger,
			fmt.Sprintf("unknown trigger type %q", string(wf.TriggerType)))
	}
}

func (v *Validator) validateStep(step *store.WorkflowStep, path string, result *schema.ValidationResult) {
	switch step.Type {
	case schema.StepTypeAction:
		if !schema.IsKnownActionType(step.ActionType) {
			result.AddError(path+".action_type", CodeUnknownAction,
				fmt.Sprintf("unknown action type %q", string(step.ActionType)))
			return
		}
		if err := v.config.ValidateActionConfig(step.ActionType, step.Config); err != nil {
			result.AddError(path+".config", CodeBadStepConfig, errMessage(err))
		}
	case schema.StepTypeCondition:
		if err := v.config.ValidateConditionConfig(step.Config); err != nil {
			result.AddError(path+".config", CodeBadStepConfig, errMessage(err))
			return
		}
		v.validateConditionExpression(step, path, result)
	case schema.StepTypeDelay:
		if err := v.config.ValidateDelayConfig(step.Config); err != nil {
			result.AddError(path+".config", CodeBadStepConfig, errMessage(err))
			return
		}
		delay, err := schema.ParseDelay(step.Config)
		if err == nil {
			if _, derr := delay.Duration(); derr != nil {
				result.AddError(path+".config", CodeBadStepConfig, derr.Error())
			}
		}
	default:
		result.AddError(path+".type", CodeUnknownStepType,
			fmt.Sprintf("unknown step type %q", string(step.Type)))
	}
}

// validateConditionExpression compile-checks expression-form conditions.
// Engines report compile errors with VALIDATION_ERROR; runtime errors
// against the empty scope are data-dependent and ignored.
func (v *Validator) validateConditionExpression(step *store.WorkflowStep, path string, result *schema.ValidationResult) {
	cond, err := schema.ParseCondition(step.Config)
	if err != nil || !cond.IsExpression() {
		return
	}
	if v.engines == nil {
		return
	}

	eng, ok := v.engines.Get(cond.Lang)
	if !ok {
		result.AddError(path+".config.lang", CodeBadExpression,
			fmt.Sprintf("unknown expression language %q", cond.Lang))
		return
	}

	_, err = eng.Evaluate(context.Background(), cond.Expression, map[string]any{})
	var cerr *schema.ConveyorError
	if errors.As(err, &cerr) && cerr.Code == schema.ErrCodeValidation {
		result.AddError(path+".config.expression", CodeBadExpression, cerr.Message)
	}
}

func errMessage(err error) string {
	var cerr *schema.ConveyorError
	if errors.As(err, &cerr) {
		return cerr.Message
	}
	return err.Error()
}
