package engine

import (
	"encoding/json"
	"fmt"
)

// decodeContext unmarshals a persisted run context. A nil or empty raw
// value yields an empty map so the caller never handles nil contexts.
func decodeContext(raw json.RawMessage) (map[string]any, error) {
	runCtx := make(map[string]any)
	if len(raw) == 0 {
		return runCtx, nil
	}
	if err := json.Unmarshal(raw, &runCtx); err != nil {
		return nil, fmt.Errorf("decode run context: %w", err)
	}
	return runCtx, nil
}

func encodeContext(runCtx map[string]any) json.RawMessage {
	raw, err := json.Marshal(runCtx)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// stepNamespace returns the ad hoc output namespace for a step order.
func stepNamespace(order int) string {
	return fmt.Sprintf("step_%d", order)
}

// mergeStepOutput writes a step's output under its own step_<order>
// namespace. The step owns that namespace, so a re-visit (backward
// jump) replaces it wholesale.
func mergeStepOutput(runCtx map[string]any, order int, output map[string]any) {
	if len(output) == 0 {
		return
	}
	runCtx[stepNamespace(order)] = output
}

// mergeEntityOutput merges a step's output into a well-known entity
// namespace (task, project). The merge is key-wise: the step targets
// the namespace explicitly, but keys it does not produce survive.
func mergeEntityOutput(runCtx map[string]any, namespace string, output map[string]any) {
	if namespace == "" || len(output) == 0 {
		return
	}
	existing, ok := runCtx[namespace].(map[string]any)
	if !ok {
		existing = make(map[string]any, len(output))
	}
	for k, v := range output {
		existing[k] = v
	}
	runCtx[namespace] = existing
}
