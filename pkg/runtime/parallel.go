package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omarrsalif594/sibyl-sub000/internal/log"
	"github.com/omarrsalif594/sibyl-sub000/pkg/budget"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// branch is the settled state of one parallel child.
type branch struct {
	name string
	ec   *ExecutionContext
	err  error
}

// execParallel runs the child steps concurrently, each on its own fork of
// ec and its own budget step counters. Nothing is merged until every
// branch has settled. With fail_fast the first failure cancels the other
// branches and is returned; otherwise failed branches are left out of the
// gather and described under "<gather>_errors".
func (ru *run) execParallel(ctx context.Context, ec *ExecutionContext, step *workspace.Step) error {
	par := step.Parallel
	name := step.DisplayName()
	failFast := par.IsFailFast()
	gather := par.Gather
	if gather == "" {
		gather = workspace.DefaultGather
	}

	parent := ctx
	var deadline *errors.TimeoutError
	if d := par.Timeout.Std(); d > 0 {
		deadline = &errors.TimeoutError{Scope: "parallel", Operation: name, Duration: d}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, deadline)
		defer cancel()
	}

	var g *errgroup.Group
	if failFast {
		g, ctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	limit := par.MaxConcurrency
	if limit == 0 {
		limit = ru.rt.opts.maxParallel
	}
	if limit > 0 {
		g.SetLimit(limit)
	}

	start := time.Now()
	tracker := budget.FromContext(ctx)
	branches := make([]branch, len(par.Steps))

	ru.logger.Debug("starting parallel execution",
		slog.String(log.StepKey, name),
		slog.Int("branches", len(par.Steps)),
		slog.Int("max_concurrency", limit),
		slog.Bool("fail_fast", failFast),
	)

	for i := range par.Steps {
		child := &par.Steps[i]
		branchName := child.Name
		if branchName == "" {
			branchName = fmt.Sprintf("step_%d", i)
		}
		branches[i] = branch{name: branchName, ec: ec.Fork()}

		g.Go(func() error {
			branchCtx := budget.WithTracker(ctx, tracker.Fork())
			var err error
			if branchCtx.Err() != nil {
				err = interrupted(branchCtx, child.DisplayName())
			} else {
				err = ru.execStep(branchCtx, branches[i].ec, child)
			}
			branches[i].err = err
			if failFast {
				return err
			}
			return nil
		})
	}
	firstErr := g.Wait()

	ru.logger.Debug("parallel execution complete",
		slog.String(log.StepKey, name),
		log.Duration(time.Since(start)),
	)

	// A deadline or cancellation of this block discards every branch.
	if parent.Err() != nil {
		return interrupted(parent, name)
	}
	if deadline != nil && context.Cause(ctx) == error(deadline) {
		return deadline
	}
	if failFast && firstErr != nil {
		return firstErr
	}

	results := make(map[string]any, len(branches))
	failures := make(map[string]any)
	for _, b := range branches {
		if b.err != nil {
			info := newErrorInfo(b.err)
			failures[b.name] = map[string]any{"type": info.Type, "message": info.Message}
			ru.logger.Warn("parallel branch failed",
				slog.String(log.StepKey, b.name),
				log.Error(b.err),
			)
			continue
		}
		ec.Merge(b.ec)
		results[b.name], _ = b.ec.Get(LastResultKey)
	}

	ec.Set(gather, results)
	if len(failures) > 0 {
		ec.Set(gather+"_errors", failures)
	}
	ec.SetResult("", results)
	return nil
}
