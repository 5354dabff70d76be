package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/arclight-io/conveyor/internal/executors"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// conditionSchemaJSON validates condition step configs: either the
// field/operator/value form or the expression form.
const conditionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://conveyor.dev/schemas/condition.json",
  "type": "object",
  "properties": {
    "field": {"type": "string", "minLength": 1},
    "operator": {
      "type": "string",
      "enum": ["equals", "not_equals", "contains", "not_contains", "gt", "gte", "lt", "lte", "is_empty", "is_not_empty"]
    },
    "value": {},
    "expression": {"type": "string", "minLength": 1},
    "lang": {"type": "string", "enum": ["cel", "expr", "jq"]}
  },
  "oneOf": [
    {"required": ["field", "operator"]},
    {"required": ["expression"]}
  ]
}`

// delaySchemaJSON validates delay step configs.
const delaySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://conveyor.dev/schemas/delay.json",
  "type": "object",
  "required": ["delay_value", "delay_type"],
  "properties": {
    "delay_value": {"type": "number", "exclusiveMinimum": 0},
    "delay_type": {"type": "string", "enum": ["minutes", "hours", "days"]}
  }
}`

// ConfigValidator checks step configs structurally against JSON Schema
// Draft 2020-12. Action configs are validated against the schema each
// executor publishes; compiled schemas are cached. Safe for concurrent use.
type ConfigValidator struct {
	registry  *executors.Registry
	condition *jsonschema.Schema
	delay     *jsonschema.Schema

	mu    sync.RWMutex
	cache map[schema.ActionType]*jsonschema.Schema
}

// NewConfigValidator creates a ConfigValidator with the condition and
// delay schemas pre-compiled.
func NewConfigValidator(registry *executors.Registry) (*ConfigValidator, error) {
	cond, err := compileSchema("https://conveyor.dev/schemas/condition.json", conditionSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile condition schema: %w", err)
	}
	delay, err := compileSchema("https://conveyor.dev/schemas/delay.json", delaySchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile delay schema: %w", err)
	}
	return &ConfigValidator{
		registry:  registry,
		condition: cond,
		delay:     delay,
		cache:     make(map[schema.ActionType]*jsonschema.Schema),
	}, nil
}

// ValidateActionConfig validates an action step's config against the
// schema published by the executor for that action kind.
func (v *ConfigValidator) ValidateActionConfig(actionType schema.ActionType, raw json.RawMessage) error {
	compiled, err := v.actionSchema(actionType)
	if err != nil {
		return err
	}
	if compiled == nil {
		return nil // executor publishes no schema
	}
	return v.validate(compiled, raw)
}

// ValidateConditionConfig validates a condition step's config.
func (v *ConfigValidator) ValidateConditionConfig(raw json.RawMessage) error {
	return v.validate(v.condition, raw)
}

// ValidateDelayConfig validates a delay step's config.
func (v *ConfigValidator) ValidateDelayConfig(raw json.RawMessage) error {
	return v.validate(v.delay, raw)
}

func (v *ConfigValidator) validate(compiled *jsonschema.Schema, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "config is not valid JSON").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toConveyorError(err)
	}
	return nil
}

// actionSchema returns the cached compiled schema for an action kind,
// compiling it from the executor's published input schema on first use.
func (v *ConfigValidator) actionSchema(actionType schema.ActionType) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if cached, ok := v.cache[actionType]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	exec, err := v.registry.Get(actionType)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown action_type %q", string(actionType))
	}
	raw := exec.Schema().InputSchema
	if len(raw) == 0 {
		return nil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[actionType]; ok {
		return cached, nil
	}

	url := fmt.Sprintf("https://conveyor.dev/schemas/actions/%s.json", actionType)
	compiled, err := compileSchema(url, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for action %q: %w", actionType, err)
	}
	v.cache[actionType] = compiled
	return compiled, nil
}

func compileSchema(url, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// toConveyorError converts a jsonschema.ValidationError into a
// ConveyorError with the leaf violations listed.
func toConveyorError(err error) *schema.ConveyorError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf
// error messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
