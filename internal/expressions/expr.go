package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/arclight-io/conveyor/pkg/schema"
)

// ExprEngine is the "expr" condition language, backed by
// expr-lang/expr. Workflows reach for it over CEL when a guard needs
// array pipelines (filter, map, sum), nil coalescing (??), or optional
// chaining (?.) over step outputs.
//
// Programs are compiled once per expression text against an open
// environment, so the same workflow step reuses its compiled form
// across every run. Safe for concurrent use.
type ExprEngine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewExprEngine creates an engine with an empty program cache.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: make(map[string]*vm.Program)}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with the run context scope as its top-level
// variables. Names the expression uses but the scope lacks resolve to
// nil rather than erroring, matching how sparse trigger payloads behave
// elsewhere in condition evaluation.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.compiled(expression)
	if err != nil {
		return nil, err
	}

	scope := data
	if scope == nil {
		scope = map[string]any{}
	}

	out, err := vm.Run(prg, scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCondition,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// compiled returns the cached program for expression, compiling it on
// first use. Compilation is keyed by expression text alone: the scope
// is untyped, so the compiled form is valid for every run.
func (e *ExprEngine) compiled(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.programs[expression] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
