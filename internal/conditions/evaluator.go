package conditions

import (
	"context"
	"strconv"
	"strings"

	"github.com/arclight-io/conveyor/internal/expressions"
	"github.com/arclight-io/conveyor/internal/resolver"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// Evaluator decides the branch of a condition step against a run's context.
// Field/operator/value conditions resolve the field to its native value and
// apply the operator's coercion rules. Expression-form conditions delegate
// to one of the expression engines (cel, expr, jq).
type Evaluator struct {
	resolver *resolver.Resolver
	engines  *expressions.Registry
}

// New creates an Evaluator. engines may be nil if expression-form conditions
// are not used.
func New(res *resolver.Resolver, engines *expressions.Registry) *Evaluator {
	return &Evaluator{resolver: res, engines: engines}
}

// Evaluate returns the condition's boolean outcome. An unknown operator or a
// failing expression is an error; the caller decides what that does to the run.
func (e *Evaluator) Evaluate(ctx context.Context, cond *schema.Condition, runCtx map[string]any) (bool, error) {
	if cond.IsExpression() {
		return e.evaluateExpression(ctx, cond, runCtx)
	}

	field := e.resolver.ResolveValue(ctx, cond.Field, runCtx)

	switch cond.Operator {
	case schema.OpEquals:
		return coerceString(field) == coerceString(cond.Value), nil
	case schema.OpNotEquals:
		return coerceString(field) != coerceString(cond.Value), nil
	case schema.OpContains:
		return contains(field, cond.Value), nil
	case schema.OpNotContains:
		return !contains(field, cond.Value), nil
	case schema.OpGt:
		return compareNumeric(field, cond.Value, func(a, b float64) bool { return a > b }), nil
	case schema.OpGte:
		return compareNumeric(field, cond.Value, func(a, b float64) bool { return a >= b }), nil
	case schema.OpLt:
		return compareNumeric(field, cond.Value, func(a, b float64) bool { return a < b }), nil
	case schema.OpLte:
		return compareNumeric(field, cond.Value, func(a, b float64) bool { return a <= b }), nil
	case schema.OpIsEmpty:
		return isEmpty(field), nil
	case schema.OpIsNotEmpty:
		return !isEmpty(field), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeCondition,
			"unknown operator %q", string(cond.Operator)).
			WithDetails(map[string]any{"field": cond.Field})
	}
}

// evaluateExpression runs an expression-form condition and coerces the
// result to a boolean: booleans pass through, nil is false, everything
// else is true when non-empty.
func (e *Evaluator) evaluateExpression(ctx context.Context, cond *schema.Condition, runCtx map[string]any) (bool, error) {
	if e.engines == nil {
		return false, schema.NewError(schema.ErrCodeCondition, "expression conditions not configured")
	}
	eng, ok := e.engines.Get(cond.Lang)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeCondition,
			"unknown expression language %q", cond.Lang)
	}

	out, err := eng.Evaluate(ctx, cond.Expression, expressions.BuildScope(runCtx))
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

// coerceString renders both comparison sides as strings, the loose-equality
// rule workflow authors rely on: "5" equals 5 is true, 0 equals "0" is true,
// but "0" equals false is false ("0" != "false").
func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// contains is a substring test for string fields and a membership test for
// array fields. Any other field type yields false.
func contains(field, value any) bool {
	switch f := field.(type) {
	case string:
		return strings.Contains(f, coerceString(value))
	case []any:
		needle := coerceString(value)
		for _, item := range f {
			if coerceString(item) == needle {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compareNumeric applies cmp when both sides parse as numbers; any
// non-numeric operand makes the condition false, never an error.
func compareNumeric(field, value any, cmp func(a, b float64) bool) bool {
	a, okA := toNumber(field)
	b, okB := toNumber(value)
	if !okA || !okB {
		return false
	}
	return cmp(a, b)
}

func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// isEmpty is true for nil (missing path), empty string, and empty array.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
