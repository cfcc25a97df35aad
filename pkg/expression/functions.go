package expression

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/omarrsalif594/sibyl-sub000/internal/jq"
)

// builtinFuncs returns the functions and literals every expression can use.
// Note: "contains" is a reserved string operator in expr, so we use "has" and "includes"
func builtinFuncs() map[string]any {
	return map[string]any{
		"has":      containsFunc,
		"includes": containsFunc, // Alias
		"length":   lenFunc,
		"default":  defaultFunc,
		"coalesce": coalesceFunc,
		"title":    titleFunc,
		"tojson":   toJSONFunc,
		"jq":       jqFunc,

		// Template authors often write Python-style literals
		"True":  true,
		"False": false,
		"None":  nil,
	}
}

// containsFunc checks if a collection contains an element.
// Usage: has(input.tags, "security")
//
// Slices use deep equality, maps check for a key and strings check for a
// substring. Any other type is false.
func containsFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("has requires exactly 2 arguments, got %d", len(args))
	}

	collection := args[0]
	target := args[1]

	if collection == nil {
		return false, nil
	}

	v := reflect.ValueOf(collection)

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if reflect.DeepEqual(v.Index(i).Interface(), target) {
				return true, nil
			}
		}
		return false, nil

	case reflect.Map:
		key := reflect.ValueOf(target)
		if !key.IsValid() || !key.Type().AssignableTo(v.Type().Key()) {
			return false, nil
		}
		return v.MapIndex(key).IsValid(), nil

	case reflect.String:
		substr, ok := target.(string)
		if !ok || substr == "" {
			return false, nil
		}
		return strings.Contains(v.String(), substr), nil

	default:
		return false, nil
	}
}

// lenFunc returns the length of a collection or string; nil has length 0.
// Usage: length(input.items) > 0
func lenFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("length requires exactly 1 argument, got %d", len(args))
	}

	if args[0] == nil {
		return 0, nil
	}

	v := reflect.ValueOf(args[0])

	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len(), nil
	default:
		return nil, fmt.Errorf("length: unsupported type %T", args[0])
	}
}

// defaultFunc returns value unless it is nil or an empty string.
// Usage: default(input.limit, 10)
func defaultFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("default requires exactly 2 arguments, got %d", len(args))
	}
	if isUnset(args[0]) {
		return args[1], nil
	}
	return args[0], nil
}

// coalesceFunc returns the first argument that is neither nil nor "".
func coalesceFunc(args ...any) (any, error) {
	for _, arg := range args {
		if !isUnset(arg) {
			return arg, nil
		}
	}
	return nil, nil
}

func isUnset(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// titleFunc title-cases a string.
func titleFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("title requires exactly 1 argument, got %d", len(args))
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("title: expected string, got %T", args[0])
	}
	return cases.Title(language.Und).String(s), nil
}

// toJSONFunc encodes a value as compact JSON.
func toJSONFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("tojson requires exactly 1 argument, got %d", len(args))
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return nil, fmt.Errorf("tojson: %w", err)
	}
	return string(data), nil
}

// jqFunc applies a jq query to a value.
// Usage: jq(last_result, '.items[0].title')
func jqFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("jq requires exactly 2 arguments, got %d", len(args))
	}
	query, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("jq: query must be a string, got %T", args[1])
	}
	return jq.Default().Execute(context.Background(), query, args[0])
}
