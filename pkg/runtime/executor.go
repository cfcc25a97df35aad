package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/omarrsalif594/sibyl-sub000/internal/log"
	"github.com/omarrsalif594/sibyl-sub000/internal/metrics"
	"github.com/omarrsalif594/sibyl-sub000/internal/tracing"
	"github.com/omarrsalif594/sibyl-sub000/pkg/budget"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// execSteps runs steps in declaration order on ec and stops at the first
// error.
func (ru *run) execSteps(ctx context.Context, ec *ExecutionContext, steps []workspace.Step) error {
	for i := range steps {
		if ctx.Err() != nil {
			return interrupted(ctx, steps[i].DisplayName())
		}
		if err := ru.execStep(ctx, ec, &steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// execStep evaluates the step's condition and dispatches on its kind.
// Errors raised by the step itself are attributed to it; errors from
// nested steps already carry their own step reference.
func (ru *run) execStep(ctx context.Context, ec *ExecutionContext, step *workspace.Step) error {
	if step.Condition != "" {
		ok, err := ru.rt.conditions.Evaluate(step.Condition, ec.Data())
		if err != nil {
			return attribute(step, err)
		}
		if !ok {
			ru.logger.Debug("step skipped due to condition",
				slog.String(log.StepKey, step.DisplayName()),
				slog.String("condition", step.Condition),
			)
			if kind := step.Kind(); kind == workspace.KindTechnique || kind == workspace.KindTool {
				metrics.RecordStep(string(kind), "skipped", 0)
			}
			return nil
		}
	}

	var err error
	switch step.Kind() {
	case workspace.KindTechnique, workspace.KindTool:
		err = ru.execLeaf(ctx, ec, step)
	case workspace.KindLoop:
		err = ru.execLoop(ctx, ec, step)
	case workspace.KindParallel:
		err = ru.execParallel(ctx, ec, step)
	case workspace.KindTry:
		err = ru.execTry(ctx, ec, step)
	default:
		err = &errors.ValidationError{
			Field:   step.DisplayName(),
			Message: "step must set exactly one of use, shop, loop, parallel or try",
		}
	}
	return attribute(step, err)
}

func attribute(step *workspace.Step, err error) error {
	if err == nil {
		return nil
	}
	var stepErr *errors.StepError
	if errors.As(err, &stepErr) {
		return err
	}
	return &errors.StepError{Step: step.DisplayName(), Ref: step.Ref(), Err: err}
}

// execLeaf runs a technique or tool step: budget checks before and after,
// the step timeout, the retry policy, and a StepResult for the attempt.
func (ru *run) execLeaf(ctx context.Context, ec *ExecutionContext, step *workspace.Step) error {
	name := step.DisplayName()
	kind := step.Kind()
	logger := log.WithStepContext(ru.logger, name, step.Ref())
	start := time.Now()

	ctx, span := tracing.StartStep(ctx, ru.rt.opts.tracer, name, step.Ref())
	defer span.End()

	record := StepResult{
		Step:      name,
		Ref:       step.Ref(),
		Kind:      kind,
		StartedAt: start,
	}

	tracker := budget.FromContext(ctx)
	tracker.ResetStep(step.Budget)

	output, resultKey, attempts, err := ru.attempt(ctx, ec, step, tracker, logger)
	if err == nil {
		err = tracker.CheckAfter()
	}

	record.Attempts = attempts
	record.Usage = tracker.StepUsage()
	record.DurationMS = time.Since(start).Milliseconds()
	metricStatus := "success"
	if err != nil {
		record.Status = StepStatusFailed
		record.Error = newErrorInfo(err)
		metricStatus = "failed"
		span.RecordError(err)

		var budgetErr *errors.BudgetExceededError
		if errors.As(err, &budgetErr) {
			metrics.RecordBudgetExceeded(budgetErr.Scope, budgetErr.Metric)
			logger = logger.With(slog.String(log.ScopeKey, budgetErr.Scope))
		}
		logger.Warn("step failed", log.Error(err), log.Duration(time.Since(start)))
	} else {
		record.Status = StepStatusSuccess
		record.Output = output
		span.SetOK()
		ec.SetResult(resultKey, output)
		logger.Debug("step completed", log.Duration(time.Since(start)))
	}
	ru.steps.append(record)
	metrics.RecordStep(string(kind), metricStatus, time.Since(start))

	return err
}

// attempt invokes the step until it succeeds or the retry policy gives up.
func (ru *run) attempt(ctx context.Context, ec *ExecutionContext, step *workspace.Step, tracker *budget.Tracker, logger *slog.Logger) (output any, resultKey string, attempts int, err error) {
	if err := tracker.CheckBefore(); err != nil {
		return nil, "", 0, err
	}

	timeout := step.Timeout.Std()
	if timeout == 0 {
		timeout = ru.rt.opts.defaultStepTimeout
	}

	for attempts = 1; ; attempts++ {
		output, resultKey, err = ru.invoke(ctx, ec, step, timeout)
		if err == nil {
			return output, resultKey, attempts, nil
		}
		if ctx.Err() != nil {
			return nil, "", attempts, err
		}

		delay, again := ru.rt.opts.retry.Next(step, attempts, err)
		if !again {
			return nil, "", attempts, err
		}
		logger.Info("retrying step", slog.Int("attempt", attempts+1), slog.Duration("backoff", delay), log.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, "", attempts, interrupted(ctx, step.DisplayName())
		case <-timer.C:
		}
	}
}

// invoke performs one attempt under the step timeout. When the step's
// context ends first, the interruption is reported instead of whatever the
// technique or tool returned.
func (ru *run) invoke(ctx context.Context, ec *ExecutionContext, step *workspace.Step, timeout time.Duration) (any, string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, &errors.TimeoutError{
			Scope:     "step",
			Operation: step.DisplayName(),
			Duration:  timeout,
		})
		defer cancel()
	}

	var (
		output    any
		resultKey string
		err       error
	)
	if step.Kind() == workspace.KindTool {
		output, resultKey, err = ru.invokeTool(ctx, ec, step)
	} else {
		output, resultKey, err = ru.invokeTechnique(ctx, ec, step)
	}

	if ctx.Err() != nil {
		return nil, "", interrupted(ctx, step.DisplayName())
	}
	return output, resultKey, err
}

func (ru *run) invokeTechnique(ctx context.Context, ec *ExecutionContext, step *workspace.Step) (any, string, error) {
	shopName, logical := step.ShopAndTechnique()
	shopRuntime, ok := ru.rt.shops[shopName]
	if !ok {
		return nil, "", &errors.ResolutionError{Kind: "shop", Name: shopName, Reason: "not defined in workspace"}
	}

	technique, ref, err := shopRuntime.Resolve(logical)
	if err != nil {
		return nil, "", err
	}

	data := ec.Data()
	input, err := ru.rt.engine.RenderMap(step.Params, data)
	if err != nil {
		return nil, "", err
	}
	overrides, err := ru.rt.engine.RenderMap(step.Config, data)
	if err != nil {
		return nil, "", err
	}
	config := shopRuntime.Config(logical, overrides)

	log.Trace(ru.logger, "invoking technique",
		slog.String(log.StepKey, step.DisplayName()),
		slog.String("technique", ref.String()),
		slog.Any("params", log.MaskSensitive(input)),
	)

	res, err := technique.Execute(ctx, input, ref.Implementation, config)
	if res != nil && !res.Usage.IsZero() {
		budget.FromContext(ctx).Record(res.Usage)
	}
	if err != nil {
		return nil, "", err
	}
	if res == nil {
		return nil, "", &errors.ExecutionError{Operation: step.Use, Message: "technique returned no result"}
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "technique reported failure"
		}
		return nil, "", &errors.ExecutionError{Operation: step.Use, Message: msg, Output: res.Output}
	}
	return res.Output, logical + "_result", nil
}

func (ru *run) invokeTool(ctx context.Context, ec *ExecutionContext, step *workspace.Step) (any, string, error) {
	if ru.rt.tools == nil {
		return nil, "", &errors.ResolutionError{Kind: "provider", Name: step.Provider, Reason: "no tool providers configured"}
	}

	provider, err := ru.rt.tools.Provider(ctx, step.Provider)
	if err != nil {
		return nil, "", err
	}
	ok, err := provider.HasTool(ctx, step.Tool)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", &errors.ResolutionError{
			Kind:   "tool",
			Name:   fmt.Sprintf("%s/%s", step.Provider, step.Tool),
			Reason: "not offered by provider",
		}
	}

	args, err := ru.rt.engine.RenderMap(step.Params, ec.Data())
	if err != nil {
		return nil, "", err
	}

	log.Trace(ru.logger, "calling tool",
		slog.String(log.StepKey, step.DisplayName()),
		slog.String(log.ProviderKey, step.Provider),
		slog.String("tool", step.Tool),
		slog.Any("params", log.MaskSensitive(args)),
	)

	if err := budget.Charge(ctx, budget.Usage{Requests: 1}); err != nil {
		return nil, "", err
	}
	output, err := provider.CallTool(ctx, step.Tool, args)
	if err != nil {
		return nil, "", err
	}
	return output, step.Tool + "_result", nil
}

// interrupted converts the end of ctx into the error reported for
// operation: the *errors.TimeoutError that set the deadline, or a
// *errors.CancelledError.
func interrupted(ctx context.Context, operation string) error {
	cause := context.Cause(ctx)

	var timeoutErr *errors.TimeoutError
	if errors.As(cause, &timeoutErr) {
		return timeoutErr
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return &errors.TimeoutError{Scope: "deadline", Operation: operation, Cause: cause}
	}
	return &errors.CancelledError{Operation: operation, Cause: cause}
}
