// Package jq provides shared jq expression execution utilities.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout is the default execution time for jq expressions (1 second)
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum input size for transforms (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor evaluates jq expressions with timeout and size limits.
// Compiled queries are cached, so an Executor should be shared.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64

	cache sync.Map // expression -> *gojq.Code
}

// NewExecutor creates a new jq executor with the given configuration.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

var (
	defaultOnce     sync.Once
	defaultExecutor *Executor
)

// Default returns a process-wide executor with default limits.
func Default() *Executor {
	defaultOnce.Do(func() {
		defaultExecutor = NewExecutor(DefaultTimeout, DefaultMaxInputSize)
	})
	return defaultExecutor
}

// Execute runs a jq expression against data. A single result is returned
// as-is, several results as a slice, and no result as nil.
func (e *Executor) Execute(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return data, nil
	}

	code, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	input, err := e.prepare(data)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	iter := code.RunWithContext(execCtx, input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if execCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("execution timeout after %v", e.timeout)
			}
			return nil, err
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Validate checks that expression parses and compiles.
func (e *Executor) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

func (e *Executor) compile(expression string) (*gojq.Code, error) {
	if cached, ok := e.cache.Load(expression); ok {
		return cached.(*gojq.Code), nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}

	actual, _ := e.cache.LoadOrStore(expression, code)
	return actual.(*gojq.Code), nil
}

// prepare enforces the input size limit and converts data into the value
// types gojq accepts.
func (e *Executor) prepare(data any) (any, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	if int64(len(jsonData)) > e.maxInputSize {
		return nil, fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(jsonData), e.maxInputSize)
	}
	return normalize(data, jsonData)
}

// normalize rewrites typed Go collections into []any and map[string]any and
// integer kinds into int, keeping integers integral. Values it cannot map
// directly fall back to a JSON round trip.
func normalize(data any, jsonData []byte) (any, error) {
	if v, ok := normalizeValue(reflect.ValueOf(data)); ok {
		return v, nil
	}
	var out any
	if err := json.Unmarshal(jsonData, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize data: %w", err)
	}
	return out, nil
}

func normalizeValue(v reflect.Value) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		return normalizeValue(v.Elem())
	case reflect.Bool:
		return v.Bool(), true
	case reflect.String:
		return v.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			elem, ok := normalizeValue(v.Index(i))
			if !ok {
				return nil, false
			}
			out[i] = elem
		}
		return out, true
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			elem, ok := normalizeValue(iter.Value())
			if !ok {
				return nil, false
			}
			out[iter.Key().String()] = elem
		}
		return out, true
	default:
		return nil, false
	}
}
