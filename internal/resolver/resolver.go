package resolver

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/arclight-io/conveyor/internal/secrets"
)

// Resolver substitutes {{path}} references in step configuration using the
// run context. Resolution is deliberately lenient: a path that does not
// resolve becomes an empty string rather than failing the step, so a typo
// in a template degrades the output instead of killing the run.
//
// Paths are dot-delimited lookups into the run context, e.g.
// {{trigger.contact.email}} or {{step_2.task_id}}. The special
// {{secrets.KEY}} namespace resolves through the vault.
type Resolver struct {
	vault secrets.Vault
}

// New creates a Resolver. The vault may be nil, in which case
// {{secrets.*}} references resolve to empty strings.
func New(vault secrets.Vault) *Resolver {
	return &Resolver{vault: vault}
}

// Resolve replaces every {{...}} token in the template with its stringified
// value from the run context. Unclosed or empty tokens pass through verbatim.
func (r *Resolver) Resolve(ctx context.Context, template string, runCtx map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 2

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			// Unclosed token: emit the rest verbatim.
			result.WriteString(template[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(template[start:end])
		if path == "" {
			result.WriteString(template[i+idx : end+2])
		} else {
			result.WriteString(stringify(r.lookup(ctx, path, runCtx)))
		}

		i = end + 2
	}

	return result.String()
}

// ResolveValue returns the native (unstringified) value at a dot-delimited
// path, or nil if the path does not resolve. Condition evaluation uses this
// so typed comparisons see real values, not their string forms.
func (r *Resolver) ResolveValue(ctx context.Context, path string, runCtx map[string]any) any {
	return r.lookup(ctx, strings.TrimSpace(path), runCtx)
}

// ResolveConfig walks a decoded config value and resolves every string leaf.
// Maps and slices are rebuilt; non-string leaves pass through untouched.
func (r *Resolver) ResolveConfig(ctx context.Context, config any, runCtx map[string]any) any {
	switch v := config.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = r.ResolveConfig(ctx, val, runCtx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = r.ResolveConfig(ctx, val, runCtx)
		}
		return out
	case string:
		// A string that is exactly one token resolves to the native value,
		// preserving numbers and objects instead of flattening to text.
		if path, ok := soleToken(v); ok {
			return r.lookup(ctx, path, runCtx)
		}
		return r.Resolve(ctx, v, runCtx)
	default:
		return config
	}
}

// ResolveRawConfig unmarshals raw JSON config, resolves it, and returns the
// resolved map. Nil or empty raw yields an empty map.
func (r *Resolver) ResolveRawConfig(ctx context.Context, raw json.RawMessage, runCtx map[string]any) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	resolved, _ := r.ResolveConfig(ctx, cfg, runCtx).(map[string]any)
	if resolved == nil {
		resolved = map[string]any{}
	}
	return resolved, nil
}

// soleToken reports whether s is exactly one {{path}} token and returns the path.
func soleToken(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if inner == "" || strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return inner, true
}

// lookup navigates the run context by a dot-delimited path. Any failure
// along the way yields nil.
func (r *Resolver) lookup(ctx context.Context, path string, runCtx map[string]any) any {
	if key, ok := strings.CutPrefix(path, "secrets."); ok {
		return r.resolveSecret(ctx, key)
	}

	var current any = runCtx
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}
	}
	return current
}

func (r *Resolver) resolveSecret(ctx context.Context, key string) any {
	if r.vault == nil || key == "" {
		return nil
	}
	val, err := r.vault.Resolve(ctx, key)
	if err != nil {
		return nil
	}
	return string(val)
}

// stringify renders a resolved value for embedding into template text.
// Missing values and nulls become empty strings; composites render as JSON.
func stringify(v any) string {
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
	case json.RawMessage:
		return string(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
