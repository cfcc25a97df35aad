// Package template renders the "{{ }}" and "{% %}" templates used in step
// parameters, configuration and conditions.
//
// A template that consists of a single bare expression, such as
// "{{ input.count }}", renders to the expression's typed value. Any other
// template renders to text, which is then coerced to a bool, int or float
// when it parses as one, in that order. Text without template markup is
// returned unchanged.
//
// Supported tags:
//
//	{% if cond %} ... {% elif cond %} ... {% else %} ... {% endif %}
//	{% for item in items %} ... {% else %} ... {% endfor %}
//	{% for key, value in mapping %} ... {% endfor %}
//	{% set name = expression %}
//	{# comment #}
//
// A "-" inside a delimiter ("{{-", "-%}") trims adjacent whitespace. Filters
// are written Jinja-style ("{{ items | length }}") and map onto expression
// functions.
package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/expression"
)

// Engine renders templates. Parsed templates are cached; an Engine is safe
// for concurrent use.
type Engine struct {
	eval *expression.Evaluator

	mu    sync.RWMutex
	cache map[string][]node
}

// New creates an engine that evaluates expressions with eval. A nil eval
// gets a fresh evaluator.
func New(eval *expression.Evaluator) *Engine {
	if eval == nil {
		eval = expression.New()
	}
	return &Engine{eval: eval, cache: make(map[string][]node)}
}

// Evaluator returns the engine's expression evaluator.
func (e *Engine) Evaluator() *expression.Evaluator {
	return e.eval
}

// Render renders tmpl against data.
func (e *Engine) Render(tmpl string, data map[string]any) (any, error) {
	if !HasSyntax(tmpl) {
		return tmpl, nil
	}

	nodes, err := e.parse(tmpl)
	if err != nil {
		return nil, err
	}

	if expr, ok := bareExpression(nodes); ok {
		return e.eval.Eval(expr, data)
	}

	text, err := e.execute(tmpl, nodes, data)
	if err != nil {
		return nil, err
	}
	return Coerce(text), nil
}

// RenderString renders tmpl to text without coercion.
func (e *Engine) RenderString(tmpl string, data map[string]any) (string, error) {
	if !HasSyntax(tmpl) {
		return tmpl, nil
	}
	nodes, err := e.parse(tmpl)
	if err != nil {
		return "", err
	}
	return e.execute(tmpl, nodes, data)
}

// RenderValue renders every string inside v, walking maps and slices.
// Map keys are not rendered. Other values are returned unchanged.
func (e *Engine) RenderValue(v any, data map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return e.Render(t, data)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			rendered, err := e.RenderValue(item, data)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rendered, err := e.RenderValue(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderMap renders a parameter map. A nil map renders to an empty map.
func (e *Engine) RenderMap(m map[string]any, data map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	out, err := e.RenderValue(m, data)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (e *Engine) parse(tmpl string) ([]node, error) {
	e.mu.RLock()
	nodes, ok := e.cache[tmpl]
	e.mu.RUnlock()
	if ok {
		return nodes, nil
	}

	nodes, err := parse(tmpl)
	if err != nil {
		return nil, &errors.ConditionError{Expression: tmpl, Cause: err}
	}

	e.mu.Lock()
	e.cache[tmpl] = nodes
	e.mu.Unlock()
	return nodes, nil
}

// bareExpression reports whether nodes are a single output expression,
// optionally surrounded by whitespace.
func bareExpression(nodes []node) (string, bool) {
	expr := ""
	for _, n := range nodes {
		switch t := n.(type) {
		case textNode:
			if strings.TrimSpace(t.text) != "" {
				return "", false
			}
		case outputNode:
			if expr != "" {
				return "", false
			}
			expr = t.expr
		default:
			return "", false
		}
	}
	return expr, expr != ""
}

func (e *Engine) execute(tmpl string, nodes []node, data map[string]any) (string, error) {
	scope := make(map[string]any, len(data))
	for k, v := range data {
		scope[k] = v
	}

	var b strings.Builder
	if err := e.exec(&b, nodes, scope); err != nil {
		var condErr *errors.ConditionError
		if errors.As(err, &condErr) {
			return "", err
		}
		return "", &errors.ConditionError{Expression: tmpl, Cause: err}
	}
	return b.String(), nil
}

func (e *Engine) exec(b *strings.Builder, nodes []node, scope map[string]any) error {
	for _, n := range nodes {
		switch t := n.(type) {
		case textNode:
			b.WriteString(t.text)

		case outputNode:
			v, err := e.eval.Eval(t.expr, scope)
			if err != nil {
				return err
			}
			b.WriteString(Stringify(v))

		case setNode:
			v, err := e.eval.Eval(t.expr, scope)
			if err != nil {
				return err
			}
			scope[t.name] = v

		case ifNode:
			matched := false
			for _, branch := range t.branches {
				v, err := e.eval.Eval(branch.cond, scope)
				if err != nil {
					return err
				}
				if expression.Truthy(v) {
					if err := e.exec(b, branch.body, scope); err != nil {
						return err
					}
					matched = true
					break
				}
			}
			if !matched {
				if err := e.exec(b, t.elseBody, scope); err != nil {
					return err
				}
			}

		case forNode:
			if err := e.execFor(b, t, scope); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) execFor(b *strings.Builder, n forNode, scope map[string]any) error {
	v, err := e.eval.Eval(n.iter, scope)
	if err != nil {
		return err
	}

	keys, values, err := iterate(v)
	if err != nil {
		return fmt.Errorf("for %s: %w", n.iter, err)
	}
	if len(values) == 0 {
		return e.exec(b, n.elseBody, scope)
	}

	for i := range values {
		inner := make(map[string]any, len(scope)+3)
		for k, v := range scope {
			inner[k] = v
		}
		if n.keyVar != "" {
			inner[n.keyVar] = keys[i]
		}
		inner[n.valueVar] = values[i]
		inner["loop"] = map[string]any{
			"index":  i + 1,
			"index0": i,
			"first":  i == 0,
			"last":   i == len(values)-1,
			"length": len(values),
		}
		if err := e.exec(b, n.body, inner); err != nil {
			return err
		}
	}
	return nil
}

// iterate returns the items of a slice, array or map. Maps iterate in
// sorted key order; for slices the keys are indexes. nil has no items.
func iterate(v any) (keys, values []any, err error) {
	if v == nil {
		return nil, nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			keys = append(keys, i)
			values = append(values, rv.Index(i).Interface())
		}
		return keys, values, nil
	case reflect.Map:
		mapKeys := rv.MapKeys()
		sort.Slice(mapKeys, func(i, j int) bool {
			return fmt.Sprint(mapKeys[i].Interface()) < fmt.Sprint(mapKeys[j].Interface())
		})
		for _, k := range mapKeys {
			keys = append(keys, k.Interface())
			values = append(values, rv.MapIndex(k).Interface())
		}
		return keys, values, nil
	default:
		return nil, nil, fmt.Errorf("cannot iterate over %T", v)
	}
}

// Stringify renders a value as template output. nil renders as "",
// collections as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}

var numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Coerce converts rendered text to a bool, int or float64 when it parses
// as one, in that order; otherwise it returns the text.
func Coerce(s string) any {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}
	if !numberPattern.MatchString(trimmed) {
		return s
	}
	if i, err := strconv.Atoi(trimmed); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return s
}
