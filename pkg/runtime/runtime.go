// Package runtime executes workspace pipelines.
//
// A WorkspaceRuntime is built once per workspace and may run any number of
// pipelines concurrently. Each run gets a fresh ExecutionContext and budget
// tracker; technique instances and tool provider connections live as long
// as the runtime.
//
//	rt, err := runtime.New(settings, runtime.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	result := rt.RunPipeline(ctx, "research", map[string]any{"question": "..."})
//	if !result.OK {
//	    fmt.Println(result.Error.Type, result.Error.Message)
//	}
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/omarrsalif594/sibyl-sub000/internal/log"
	"github.com/omarrsalif594/sibyl-sub000/internal/mcp"
	"github.com/omarrsalif594/sibyl-sub000/internal/metrics"
	"github.com/omarrsalif594/sibyl-sub000/internal/tracing"
	"github.com/omarrsalif594/sibyl-sub000/pkg/budget"
	"github.com/omarrsalif594/sibyl-sub000/pkg/condition"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/expression"
	"github.com/omarrsalif594/sibyl-sub000/pkg/shop"
	"github.com/omarrsalif594/sibyl-sub000/pkg/shop/builtin"
	"github.com/omarrsalif594/sibyl-sub000/pkg/template"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// WorkspaceRuntime runs the pipelines of one workspace. It is safe for
// concurrent use and is not modified after New returns.
type WorkspaceRuntime struct {
	settings *workspace.Settings
	opts     options

	shops      map[string]*shop.Runtime
	tools      ToolProviders
	engine     *template.Engine
	conditions *condition.Evaluator
	global     *budget.Account
	logger     *slog.Logger
}

// New creates a runtime for settings. The settings are validated and must
// not be modified afterwards.
func New(settings *workspace.Settings, opts ...Option) (*WorkspaceRuntime, error) {
	if settings == nil {
		return nil, &errors.ConfigError{Reason: "workspace settings are required"}
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer(tracing.InstrumentationName)
	}
	if o.retry == nil {
		o.retry = NoRetry{}
	}

	engine := template.New(expression.New())
	if o.registry == nil {
		o.registry = shop.NewRegistry()
		if err := builtin.Register(o.registry, engine); err != nil {
			return nil, fmt.Errorf("register builtin techniques: %w", err)
		}
	}

	shops := make(map[string]*shop.Runtime, len(settings.Shops))
	for name, s := range settings.Shops {
		shops[name] = shop.NewRuntime(name, s, o.registry)
	}

	tools := o.tools
	if tools == nil && len(settings.Providers) > 0 {
		tools = MCPProviders(mcp.NewManager(mcp.ManagerConfig{
			Providers: settings.Providers,
			Logger:    o.logger,
		}))
	}

	return &WorkspaceRuntime{
		settings:   settings,
		opts:       o,
		shops:      shops,
		tools:      tools,
		engine:     engine,
		conditions: condition.New(engine),
		global:     budget.NewAccount(budget.ScopeGlobal, settings.Budget),
		logger:     log.WithComponent(o.logger, "runtime"),
	}, nil
}

// Pipelines returns the workspace's pipeline names in sorted order.
func (r *WorkspaceRuntime) Pipelines() []string {
	return r.settings.PipelineNames()
}

// GlobalUsage returns the usage charged against the workspace budget by
// every run of this runtime.
func (r *WorkspaceRuntime) GlobalUsage() budget.Usage {
	return r.global.Used()
}

// Close releases tool provider connections.
func (r *WorkspaceRuntime) Close() error {
	if closer, ok := r.tools.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// run is the state shared by every step of one pipeline run.
type run struct {
	rt       *WorkspaceRuntime
	id       string
	pipeline string
	steps    *stepLog
	logger   *slog.Logger
}

// RunPipeline runs the named pipeline with params as its input. It never
// returns nil; failures are reported in the envelope.
func (r *WorkspaceRuntime) RunPipeline(ctx context.Context, name string, params map[string]any) *Result {
	start := time.Now()
	runID := uuid.NewString()

	ctx, span := tracing.StartPipelineRun(ctx, r.opts.tracer, runID, name)
	defer span.End()

	ru := &run{
		rt:       r,
		id:       runID,
		pipeline: name,
		steps:    &stepLog{},
		logger:   log.WithRunContext(r.logger, runID, name),
	}

	result := &Result{
		Pipeline: name,
		RunID:    runID,
		TraceID:  span.TraceID(),
	}
	if result.TraceID == "" {
		result.TraceID = runID
	}

	pipeline, ok := r.settings.Pipeline(name)
	if !ok {
		err := &errors.ResolutionError{Kind: "pipeline", Name: name, Reason: "not defined in workspace"}
		return ru.finish(result, start, nil, nil, err, span)
	}

	tracker := budget.NewTracker(r.global, budget.NewAccount(budget.ScopePipeline, pipeline.Budget))
	ctx = budget.WithTracker(ctx, tracker)

	if d := pipeline.Timeout.Std(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, &errors.TimeoutError{
			Scope:     "pipeline",
			Operation: name,
			Duration:  d,
		})
		defer cancel()
	}

	ec := NewExecutionContext(params, r.opts.env)
	ru.logger.Info("pipeline started", slog.Int("steps", len(pipeline.Steps)))
	log.Trace(ru.logger, "pipeline input", slog.Any("input", log.MaskSensitive(params)))

	err := ru.execSteps(ctx, ec, pipeline.Steps)

	var summary *budget.Summary
	if r.settings.Budget != nil && !r.settings.Budget.IsZero() ||
		pipeline.Budget != nil && !pipeline.Budget.IsZero() ||
		hasStepBudget(pipeline.Steps) {
		s := tracker.Summary()
		summary = &s
	}
	return ru.finish(result, start, ec, summary, err, span)
}

func (ru *run) finish(result *Result, start time.Time, ec *ExecutionContext, summary *budget.Summary, err error, span *tracing.PipelineSpan) *Result {
	result.DurationMS = time.Since(start).Milliseconds()
	result.StepResults = ru.steps.snapshot()
	result.Budget = summary
	result.Status = statusOf(err)
	result.OK = err == nil

	if err != nil {
		result.Error = newErrorInfo(err)
		span.RecordError(err)
		ru.logger.Error("pipeline failed",
			slog.String("status", string(result.Status)),
			slog.String("error_type", result.Error.Type),
			slog.String(log.StepKey, result.Error.Step),
			log.Error(err),
			log.Duration(time.Since(start)),
		)
	} else {
		result.Data = ec.Vars()
		span.SetOK()
		ru.logger.Info("pipeline completed", log.Duration(time.Since(start)))
	}

	metrics.RecordPipelineRun(ru.pipeline, string(result.Status), time.Since(start))
	return result
}

func hasStepBudget(steps []workspace.Step) bool {
	for i := range steps {
		s := &steps[i]
		if s.Budget != nil && !s.Budget.IsZero() {
			return true
		}
		switch {
		case s.Loop != nil && hasStepBudget(s.Loop.Steps):
			return true
		case s.Parallel != nil && hasStepBudget(s.Parallel.Steps):
			return true
		case s.Try != nil:
			if hasStepBudget(s.Try.Steps) || hasStepBudget(s.Try.Finally) {
				return true
			}
			for _, c := range s.Try.Catch {
				if hasStepBudget(c.Steps) {
					return true
				}
			}
		}
	}
	return false
}
