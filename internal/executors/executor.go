package executors

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/arclight-io/conveyor/pkg/schema"
)

// Executor is the unit of work behind one action step kind.
type Executor interface {
	Name() schema.ActionType
	Schema() ExecutorSchema
	Execute(ctx context.Context, input Input) (*Output, error)
	Validate(config map[string]any) error
}

// ExecutorSchema describes the config contract of an executor.
type ExecutorSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Input is the data handed to an executor at execution time.
// Config has already been template-resolved against the run context.
type Input struct {
	Config  map[string]any `json:"config"`
	Context map[string]any `json:"context,omitempty"`
	OrgID   string         `json:"organization_id,omitempty"`
}

// Output is the result of one executed action step. Data is merged into the
// run context under the step's namespace.
type Output struct {
	Data map[string]any `json:"data,omitempty"`
}

// Info is a summary of a registered executor for listing.
type Info struct {
	Name        schema.ActionType `json:"name"`
	Description string            `json:"description,omitempty"`
}

// Registry is a thread-safe lookup of executors by action type.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.ActionType]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[schema.ActionType]Executor),
	}
}

// Register adds an executor to the registry. Returns error on duplicate name.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	name := e.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor %q already registered", string(name))
	}

	r.executors[name] = e
	return nil
}

// Get retrieves an executor by action type.
func (r *Registry) Get(name schema.ActionType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "no executor for action type %q", string(name))
	}
	return e, nil
}

// Has checks if an executor is registered.
func (r *Registry) Has(name schema.ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// List returns info for all registered executors, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.executors))
	for _, e := range r.executors {
		s := e.Schema()
		infos = append(infos, Info{
			Name:        e.Name(),
			Description: s.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// Param helpers used by all executor files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	mm, _ := v.(map[string]any)
	return mm
}
