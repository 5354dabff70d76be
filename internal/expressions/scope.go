package expressions

import (
	"strings"
)

// BuildScope shapes a run context for expression evaluation.
// The run context stores step outputs under flat "step_<order>" keys;
// expressions see them grouped under a "steps" map keyed by order, so
// `steps["2"].task_id` works alongside the flat form. The trigger,
// entity, and workflow namespaces pass through as-is.
func BuildScope(runCtx map[string]any) map[string]any {
	scope := make(map[string]any, len(runCtx)+1)
	steps := make(map[string]any)

	for k, v := range runCtx {
		scope[k] = deepCopyAny(v)
		if order, ok := strings.CutPrefix(k, "step_"); ok && order != "" {
			steps[order] = deepCopyAny(v)
		}
	}
	scope["steps"] = steps
	return scope
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}
