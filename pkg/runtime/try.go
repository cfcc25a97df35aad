package runtime

import (
	"context"
	"log/slog"

	"github.com/omarrsalif594/sibyl-sub000/internal/log"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// execTry runs the try steps. On failure the first catch block whose when
// condition holds runs with {{ error }} bound; its own failure replaces the
// original error. Finally steps always run, and their failure replaces any
// error being propagated.
func (ru *run) execTry(ctx context.Context, ec *ExecutionContext, step *workspace.Step) error {
	try := step.Try
	name := step.DisplayName()

	err := ru.execSteps(ctx, ec, try.Steps)
	if err != nil && len(try.Catch) > 0 {
		err = ru.handle(ctx, ec, name, try.Catch, err)
	}

	if len(try.Finally) > 0 {
		finallyCtx := ctx
		if ctx.Err() != nil {
			finallyCtx = context.WithoutCancel(ctx)
		}
		if ferr := ru.execSteps(finallyCtx, ec, try.Finally); ferr != nil {
			if err != nil {
				ru.logger.Warn("finally failure replaces earlier error",
					slog.String(log.StepKey, name),
					log.Error(err),
				)
			}
			err = ferr
		}
	}
	return err
}

// handle routes err to the first matching catch block. It returns nil when
// the block succeeds, the block's error when it fails, and err unchanged
// when no block matches.
func (ru *run) handle(ctx context.Context, ec *ExecutionContext, name string, catches []workspace.Catch, err error) error {
	info := newErrorInfo(err)
	restore := ec.bind(NamespaceError, info.namespace())
	defer restore()

	for i := range catches {
		catch := &catches[i]
		if catch.When != "" {
			matched, cerr := ru.rt.conditions.Evaluate(catch.When, ec.Data())
			if cerr != nil {
				return cerr
			}
			if !matched {
				continue
			}
		}

		ru.logger.Debug("catch block matched",
			slog.String(log.StepKey, name),
			slog.Int("catch", i),
			slog.String("error_type", info.Type),
		)
		return ru.execSteps(ctx, ec, catch.Steps)
	}
	return err
}
