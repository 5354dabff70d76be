package expressions

import (
	"fmt"
)

// Registry holds the available expression engines keyed by language name.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry builds a registry with all three engines wired.
// Defaults to CEL when a condition names no language.
func NewRegistry() (*Registry, error) {
	celEng, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("init cel engine: %w", err)
	}
	return &Registry{
		engines: map[string]Engine{
			"cel":  celEng,
			"expr": NewExprEngine(),
			"jq":   NewGoJQEngine(),
		},
	}, nil
}

// Get returns the engine for the given language. An empty lang selects CEL.
func (r *Registry) Get(lang string) (Engine, bool) {
	if lang == "" {
		lang = "cel"
	}
	eng, ok := r.engines[lang]
	return eng, ok
}

// Languages returns the registered language names.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.engines))
	for name := range r.engines {
		out = append(out, name)
	}
	return out
}
