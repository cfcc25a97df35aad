package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"github.com/omarrsalif594/sibyl-sub000/internal/log"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// execLoop runs the loop body once per for_each item, while the while
// condition holds, or both, never more than max_iterations times. Each
// iteration runs on a fork of ec that is merged back when the body
// completes.
func (ru *run) execLoop(ctx context.Context, ec *ExecutionContext, step *workspace.Step) error {
	loop := step.Loop
	name := step.DisplayName()

	maxIterations := loop.MaxIterations
	if maxIterations <= 0 {
		maxIterations = workspace.DefaultMaxIterations
	}
	loopVar := loop.Var
	if loopVar == "" {
		loopVar = workspace.DefaultLoopVar
	}

	var items []any
	hasItems := loop.ForEach != nil
	if hasItems {
		var err error
		items, err = ru.loopItems(loop.ForEach, ec)
		if err != nil {
			return err
		}
	}

	iterations := 0
	terminatedBy := "complete"
	for i := 0; ; i++ {
		if hasItems && i >= len(items) {
			break
		}
		if ctx.Err() != nil {
			return interrupted(ctx, name)
		}

		iter := ec.Fork()
		state := map[string]any{
			"index":     i,
			"iteration": i + 1,
		}
		if hasItems {
			state["item"] = items[i]
			state["length"] = len(items)
			state["first"] = i == 0
			state["last"] = i == len(items)-1
			iter.bind(loopVar, items[i])
		}
		iter.bind(NamespaceLoop, state)

		if loop.While != "" {
			ok, err := ru.rt.conditions.Evaluate(loop.While, iter.Data())
			if err != nil {
				return err
			}
			if !ok {
				terminatedBy = "while"
				break
			}
		}

		if i >= maxIterations {
			terminatedBy = "max_iterations"
			if ru.rt.opts.loopOverflow == LoopOverflowError {
				return &errors.ConfigError{
					Key:    "max_iterations",
					Reason: fmt.Sprintf("loop %s still active after %d iterations", name, maxIterations),
				}
			}
			break
		}

		if err := ru.execSteps(ctx, iter, loop.Steps); err != nil {
			return err
		}
		ec.Merge(iter)
		iterations++

		if loop.BreakOn != "" {
			stop, err := ru.rt.conditions.Evaluate(loop.BreakOn, iter.Data())
			if err != nil {
				return err
			}
			if stop {
				terminatedBy = "break_on"
				break
			}
		}
	}

	ru.logger.Debug("loop finished",
		slog.String(log.StepKey, name),
		slog.Int("iterations", iterations),
		slog.String("terminated_by", terminatedBy),
	)
	return nil
}

// loopItems evaluates for_each. A string is rendered as a template; any
// other value is rendered recursively. The result must be a list, array or
// map (iterated by sorted key); strings and scalars are configuration
// errors.
func (ru *run) loopItems(forEach any, ec *ExecutionContext) ([]any, error) {
	var (
		value any
		err   error
	)
	if s, ok := forEach.(string); ok {
		value, err = ru.rt.engine.Render(s, ec.Data())
	} else {
		value, err = ru.rt.engine.RenderValue(forEach, ec.Data())
	}
	if err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case []any:
		return v, nil
	case string, nil:
		return nil, &errors.ConfigError{
			Key:    "for_each",
			Reason: fmt.Sprintf("expected a list, got %s", describe(value)),
		}
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, nil
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
		sort.Strings(keys)
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = k
		}
		return items, nil
	}
	return nil, &errors.ConfigError{
		Key:    "for_each",
		Reason: fmt.Sprintf("expected a list, got %s", describe(value)),
	}
}

func describe(v any) string {
	if v == nil {
		return "nothing"
	}
	return fmt.Sprintf("%T", v)
}
