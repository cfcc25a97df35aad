package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
)

// Evaluator evaluates expressions against a data map.
// It caches compiled expressions for improved performance on repeated evaluations.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex

	funcs map[string]any
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
		funcs: builtinFuncs(),
	}
}

// Eval evaluates expression against data and returns its value.
//
// Example:
//
//	data := map[string]any{
//	    "input":   map[string]any{"count": 3},
//	    "context": map[string]any{},
//	}
//	v, err := eval.Eval("input.count * 2", data) // 6
func (e *Evaluator) Eval(expression string, data map[string]any) (any, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, &errors.ConditionError{
			Expression: expression,
			Cause:      fmt.Errorf("compile: %w", err),
		}
	}

	// Functions and literals are merged into the runtime environment;
	// names in data take precedence.
	env := make(map[string]any, len(data)+len(e.funcs))
	for k, v := range e.funcs {
		env[k] = v
	}
	for k, v := range data {
		env[k] = v
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, &errors.ConditionError{Expression: expression, Cause: err}
	}
	return result, nil
}

// Evaluate evaluates an expression that must produce a boolean.
// An empty expression is true.
func (e *Evaluator) Evaluate(expression string, data map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	result, err := e.Eval(expression, data)
	if err != nil {
		return false, err
	}

	b, ok := result.(bool)
	if !ok {
		return false, &errors.ConditionError{
			Expression: expression,
			Cause:      fmt.Errorf("expression must return boolean, got %T (%v)", result, result),
		}
	}
	return b, nil
}

// compile compiles an expression and caches the result.
func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression,
		expr.Env(e.funcs),
		// Data is only known at run time
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}

// ClearCache clears the expression cache.
// This is mainly useful for testing.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// CacheSize returns the number of cached expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
