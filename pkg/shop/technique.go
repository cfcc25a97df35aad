// Package shop resolves the logical technique names used by pipelines to
// concrete technique implementations.
//
// A shop maps a logical name to a "category.technique:implementation"
// reference. The "category.technique" part selects a Factory from the
// Registry; the implementation is passed to every Execute call and selects
// a variant of the technique. Each shop Runtime caches the instance it
// loads for a logical name for its whole lifetime.
package shop

import (
	"context"

	"github.com/omarrsalif594/sibyl-sub000/pkg/budget"
)

// Result is what a technique returns.
type Result struct {
	// Output is written to the step's result keys in the run context
	Output any `json:"output"`

	// Success false means the technique failed without returning an error
	Success bool `json:"success"`

	// Message describes a failure when Success is false
	Message string `json:"message,omitempty"`

	// Usage is charged to the run's budget after the technique returns
	Usage budget.Usage `json:"usage"`
}

// Technique is a pluggable unit of work.
type Technique interface {
	// Execute runs the technique. input is the step's rendered params,
	// implementation selects a variant and config is the merged shop and
	// step configuration. Failures are returned as errors or as a Result
	// with Success false.
	Execute(ctx context.Context, input any, implementation string, config map[string]any) (*Result, error)
}

// TechniqueFunc adapts a function to the Technique interface.
type TechniqueFunc func(ctx context.Context, input any, implementation string, config map[string]any) (*Result, error)

// Execute calls f.
func (f TechniqueFunc) Execute(ctx context.Context, input any, implementation string, config map[string]any) (*Result, error) {
	return f(ctx, input, implementation, config)
}

// Factory creates a technique instance for a parsed reference.
type Factory func(ref Reference) (Technique, error)

// Static returns a factory that always yields t.
func Static(t Technique) Factory {
	return func(Reference) (Technique, error) {
		return t, nil
	}
}
