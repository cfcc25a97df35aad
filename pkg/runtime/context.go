package runtime

import (
	"maps"
)

// Namespaces visible to templates and conditions.
const (
	NamespaceInput   = "input"
	NamespaceContext = "context"
	NamespaceEnv     = "env"
	NamespaceLoop    = "loop"
	NamespaceError   = "error"

	// LastResultKey always holds the most recent step output.
	LastResultKey = "last_result"
)

// ExecutionContext is the state of one pipeline run. It has three views:
// input (the run parameters, never modified), context (step outputs,
// read-write) and transient overlays that exist only while a loop
// iteration or catch block is active.
//
// An ExecutionContext has one writer at a time. Parallel branches work on
// forks and are merged back by the parallel construct once every branch
// has settled.
type ExecutionContext struct {
	input    map[string]any
	env      map[string]any
	vars     map[string]any
	overlays map[string]any

	// written holds the context keys set since the fork was taken
	written map[string]struct{}
}

// NewExecutionContext creates the context for a run.
func NewExecutionContext(input map[string]any, env map[string]string) *ExecutionContext {
	if input == nil {
		input = map[string]any{}
	}
	envVars := make(map[string]any, len(env))
	for k, v := range env {
		envVars[k] = v
	}
	return &ExecutionContext{
		input:    input,
		env:      envVars,
		vars:     map[string]any{},
		overlays: map[string]any{},
		written:  map[string]struct{}{},
	}
}

// Input returns the run parameters.
func (c *ExecutionContext) Input() map[string]any {
	return c.input
}

// Get returns a value from the context namespace.
func (c *ExecutionContext) Get(key string) (any, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Set writes a value to the context namespace.
func (c *ExecutionContext) Set(key string, value any) {
	c.vars[key] = value
	c.written[key] = struct{}{}
}

// SetResult writes a step output under key and under last_result.
func (c *ExecutionContext) SetResult(key string, value any) {
	if key != "" {
		c.Set(key, value)
	}
	c.Set(LastResultKey, value)
}

// Vars returns a shallow copy of the context namespace.
func (c *ExecutionContext) Vars() map[string]any {
	return maps.Clone(c.vars)
}

// bind sets a transient overlay and returns a func restoring the previous
// binding.
func (c *ExecutionContext) bind(name string, value any) func() {
	prev, had := c.overlays[name]
	c.overlays[name] = value
	return func() {
		if had {
			c.overlays[name] = prev
		} else {
			delete(c.overlays, name)
		}
	}
}

// Data returns the template view of the context. Context keys and overlays
// are available at the top level; the input, context and env namespaces
// take precedence over same-named keys.
func (c *ExecutionContext) Data() map[string]any {
	data := make(map[string]any, len(c.vars)+len(c.overlays)+3)
	for k, v := range c.vars {
		data[k] = v
	}
	for k, v := range c.overlays {
		data[k] = v
	}
	data[NamespaceInput] = c.input
	data[NamespaceContext] = c.vars
	data[NamespaceEnv] = c.env
	return data
}

// Fork returns a copy for a loop iteration or parallel branch. The context
// namespace and overlays are copied shallowly; input and env are shared.
func (c *ExecutionContext) Fork() *ExecutionContext {
	return &ExecutionContext{
		input:    c.input,
		env:      c.env,
		vars:     maps.Clone(c.vars),
		overlays: maps.Clone(c.overlays),
		written:  map[string]struct{}{},
	}
}

// Merge copies the keys a fork wrote back into c. Keys the fork only
// inherited are left alone, so sibling forks merged later cannot restore
// stale values. Overlays bound inside the fork are discarded.
func (c *ExecutionContext) Merge(child *ExecutionContext) {
	for k := range child.written {
		c.Set(k, child.vars[k])
	}
}
