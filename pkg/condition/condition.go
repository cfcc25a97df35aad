// Package condition evaluates the boolean clauses of a pipeline: step
// conditions, loop while and break_on clauses, and catch.when matchers.
//
// A condition may be written as a template ("{{ counter < 10 }}"), as a
// bare expression ("counter < 10") or as a literal word. Rendered strings
// "true", "false", "1", "0", "yes" and "no" are recognised in any case;
// every other value uses general truthiness.
package condition

import (
	"strings"

	"github.com/omarrsalif594/sibyl-sub000/pkg/expression"
	"github.com/omarrsalif594/sibyl-sub000/pkg/template"
)

// Evaluator evaluates conditions with a template engine.
type Evaluator struct {
	engine *template.Engine
}

// New creates an evaluator. A nil engine gets a fresh one.
func New(engine *template.Engine) *Evaluator {
	if engine == nil {
		engine = template.New(nil)
	}
	return &Evaluator{engine: engine}
}

// Evaluate reports whether cond holds against data. An empty condition is
// true. Malformed conditions return a *errors.ConditionError.
func (e *Evaluator) Evaluate(cond string, data map[string]any) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}

	if b, ok := parseWord(cond); ok {
		return b, nil
	}

	var (
		v   any
		err error
	)
	if template.HasSyntax(cond) {
		v, err = e.engine.Render(cond, data)
	} else {
		v, err = e.engine.Evaluator().Eval(cond, data)
	}
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy applies the tolerant string words first and general truthiness
// otherwise.
func Truthy(v any) bool {
	if s, ok := v.(string); ok {
		if b, ok := parseWord(strings.TrimSpace(s)); ok {
			return b
		}
	}
	return expression.Truthy(v)
}

func parseWord(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}
