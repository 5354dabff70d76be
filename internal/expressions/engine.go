package expressions

import "context"

// Engine evaluates one expression language against a run's context
// scope (trigger, entity, steps, workflow). A condition step selects
// its engine with the "lang" field: "cel" for boolean guards, "expr"
// for richer deterministic logic, "jq" for JSON transforms. Compile
// failures come back as VALIDATION_ERROR so the workflow validator can
// reject a definition before activation; evaluation failures come back
// as CONDITION_ERROR and fail the run at that step.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
