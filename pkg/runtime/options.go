package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/omarrsalif594/sibyl-sub000/pkg/shop"
)

// LoopOverflowPolicy decides what happens when a loop reaches
// max_iterations while it would otherwise continue.
type LoopOverflowPolicy int

const (
	// LoopOverflowStop ends the loop quietly.
	LoopOverflowStop LoopOverflowPolicy = iota
	// LoopOverflowError fails the loop with a *errors.ConfigError.
	LoopOverflowError
)

// String returns the policy name used in configuration.
func (p LoopOverflowPolicy) String() string {
	if p == LoopOverflowError {
		return "error"
	}
	return "stop"
}

// ParseLoopOverflowPolicy parses "stop" or "error". An empty string is stop.
func ParseLoopOverflowPolicy(s string) (LoopOverflowPolicy, error) {
	switch s {
	case "", "stop":
		return LoopOverflowStop, nil
	case "error":
		return LoopOverflowError, nil
	}
	return LoopOverflowStop, fmt.Errorf("unknown loop overflow policy %q", s)
}

type options struct {
	logger             *slog.Logger
	registry           *shop.Registry
	tools              ToolProviders
	tracer             trace.Tracer
	env                map[string]string
	defaultStepTimeout time.Duration
	loopOverflow       LoopOverflowPolicy
	maxParallel        int
	retry              RetryPolicy
}

// Option configures a WorkspaceRuntime.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry sets the technique registry. By default the runtime creates
// a registry holding the builtin techniques.
func WithRegistry(registry *shop.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithToolProviders sets the source of MCP tool providers. By default the
// runtime connects the workspace's providers itself.
func WithToolProviders(tools ToolProviders) Option {
	return func(o *options) { o.tools = tools }
}

// WithTracer sets the tracer used for run and step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithEnv sets the values exposed as {{ env.NAME }}.
func WithEnv(env map[string]string) Option {
	return func(o *options) { o.env = env }
}

// WithDefaultStepTimeout bounds leaf steps that set no timeout. 0 means
// no bound.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(o *options) { o.defaultStepTimeout = d }
}

// WithLoopOverflow sets the max_iterations policy.
func WithLoopOverflow(p LoopOverflowPolicy) Option {
	return func(o *options) { o.loopOverflow = p }
}

// WithMaxParallel caps in-flight branches for parallel steps that set no
// max_concurrency. 0 means unbounded.
func WithMaxParallel(n int) Option {
	return func(o *options) { o.maxParallel = n }
}

// WithRetryPolicy sets the policy applied to failed leaf steps. Defaults
// to NoRetry.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}
