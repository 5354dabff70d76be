package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType enumerates how a workflow can be started.
type TriggerType string

const (
	TriggerEvent    TriggerType = "event"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
	TriggerManual   TriggerType = "manual"
)

// TriggerConfig is the kind-specific trigger configuration.
// Exactly one shape is meaningful per TriggerType; unused fields stay empty.
type TriggerConfig struct {
	EventTypes []string `json:"event_types,omitempty"` // event: entity event names to match
	Cron       string   `json:"cron,omitempty"`        // schedule: standard 5-field cron expression
	Binding    string   `json:"binding,omitempty"`     // webhook: inbound path binding slug
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	StepTypeAction    StepType = "action"
	StepTypeCondition StepType = "condition"
	StepTypeDelay     StepType = "delay"
)

// ActionType enumerates the action kinds an action step can perform.
type ActionType string

const (
	ActionSendEmail          ActionType = "send_email"
	ActionSendNotification   ActionType = "send_notification"
	ActionSendSlack          ActionType = "send_slack"
	ActionCreateSlackChannel ActionType = "create_slack_channel"
	ActionCreateTask         ActionType = "create_task"
	ActionUpdateTask         ActionType = "update_task"
	ActionCreateProject      ActionType = "create_project"
	ActionWebhookCall        ActionType = "webhook_call"
	ActionAIGenerate         ActionType = "ai_generate"
)

// KnownActionTypes is the closed set of dispatchable action kinds.
// Unknown kinds are rejected at validation time, never at dispatch time.
var KnownActionTypes = []ActionType{
	ActionSendEmail,
	ActionSendNotification,
	ActionSendSlack,
	ActionCreateSlackChannel,
	ActionCreateTask,
	ActionUpdateTask,
	ActionCreateProject,
	ActionWebhookCall,
	ActionAIGenerate,
}

// IsKnownActionType reports whether t is a dispatchable action kind.
func IsKnownActionType(t ActionType) bool {
	for _, k := range KnownActionTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Operator enumerates the condition predicate operators.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

// Condition is the config block of a condition step.
// Either the {Field, Operator, Value} triple or Expression is set;
// Expression takes an optional Lang (cel | expr | jq, default cel).
type Condition struct {
	Field      string   `json:"field,omitempty"`
	Operator   Operator `json:"operator,omitempty"`
	Value      any      `json:"value,omitempty"`
	Expression string   `json:"expression,omitempty"`
	Lang       string   `json:"lang,omitempty"`
}

// IsExpression reports whether the condition uses the expression form.
func (c *Condition) IsExpression() bool {
	return c.Expression != ""
}

// DelayConfig is the config block of a delay step.
type DelayConfig struct {
	DelayValue float64 `json:"delay_value"`
	DelayType  string  `json:"delay_type"` // minutes | hours | days
}

// Duration converts the delay config to a concrete duration.
func (d *DelayConfig) Duration() (time.Duration, error) {
	if d.DelayValue <= 0 {
		return 0, fmt.Errorf("delay_value must be positive, got %v", d.DelayValue)
	}
	var unit time.Duration
	switch d.DelayType {
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown delay_type %q", d.DelayType)
	}
	return time.Duration(d.DelayValue * float64(unit)), nil
}

// RetryPolicy configures retry behavior for webhook_call steps.
type RetryPolicy struct {
	Max     int    `json:"max"`               // max retry attempts
	Backoff string `json:"backoff,omitempty"` // none | linear | exponential (default: none)
	Delay   string `json:"delay,omitempty"`   // initial delay (e.g. "1s", "500ms")
}

// ParseCondition decodes a condition step's raw config.
func ParseCondition(raw json.RawMessage) (*Condition, error) {
	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "invalid condition config: %s", err.Error()).WithCause(err)
	}
	return &c, nil
}

// ParseDelay decodes a delay step's raw config.
func ParseDelay(raw json.RawMessage) (*DelayConfig, error) {
	var d DelayConfig
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "invalid delay config: %s", err.Error()).WithCause(err)
	}
	return &d, nil
}
