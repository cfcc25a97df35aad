package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarrsalif594/sibyl-sub000/pkg/budget"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/shop"
	"github.com/omarrsalif594/sibyl-sub000/pkg/shop/builtin"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

const testShops = `
shops:
  t:
    techniques:
      value: test.value
      fail: test.fail
      soft_fail: test.soft_fail
      sleep: test.sleep
      meter: test.meter
      flaky: test.flaky
      missing: test.nope
      echo: util.echo
    config:
      value:
        tokens: 0
`

// testRegistry registers the fake techniques used by these tests.
//
//	test.value:     returns params.value; config.tokens is reported as usage
//	test.fail:      returns a plain error
//	test.soft_fail: returns Success false
//	test.sleep:     waits params.delay or until cancelled
//	test.meter:     charges params.requests requests one at a time
//	test.flaky:     fails with an ExecutionError until the third call
func testRegistry(t *testing.T) *shop.Registry {
	t.Helper()
	reg := shop.NewRegistry()
	require.NoError(t, builtin.Register(reg, nil))

	reg.MustRegister("test.value", shop.Static(shop.TechniqueFunc(
		func(_ context.Context, input any, _ string, config map[string]any) (*shop.Result, error) {
			params, _ := input.(map[string]any)
			tokens, _ := config["tokens"].(int)
			return &shop.Result{Output: params["value"], Success: true, Usage: budget.Usage{Tokens: int64(tokens)}}, nil
		})))

	reg.MustRegister("test.fail", shop.Static(shop.TechniqueFunc(
		func(context.Context, any, string, map[string]any) (*shop.Result, error) {
			return nil, fmt.Errorf("boom")
		})))

	reg.MustRegister("test.soft_fail", shop.Static(shop.TechniqueFunc(
		func(context.Context, any, string, map[string]any) (*shop.Result, error) {
			return &shop.Result{Output: "partial", Success: false, Message: "not good enough"}, nil
		})))

	reg.MustRegister("test.sleep", shop.Static(shop.TechniqueFunc(
		func(ctx context.Context, input any, _ string, _ map[string]any) (*shop.Result, error) {
			params, _ := input.(map[string]any)
			delay, _ := time.ParseDuration(fmt.Sprint(params["delay"]))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				return &shop.Result{Output: "slept", Success: true}, nil
			}
		})))

	reg.MustRegister("test.meter", shop.Static(shop.TechniqueFunc(
		func(ctx context.Context, input any, _ string, _ map[string]any) (*shop.Result, error) {
			params, _ := input.(map[string]any)
			n, _ := params["requests"].(int)
			for i := 0; i < n; i++ {
				if err := budget.Charge(ctx, budget.Usage{Requests: 1}); err != nil {
					return nil, err
				}
			}
			return &shop.Result{Output: n, Success: true}, nil
		})))

	var flaky atomic.Int32
	reg.MustRegister("test.flaky", shop.Static(shop.TechniqueFunc(
		func(context.Context, any, string, map[string]any) (*shop.Result, error) {
			if flaky.Add(1) < 3 {
				return nil, &errors.ExecutionError{Operation: "test.flaky", Message: "transient"}
			}
			return &shop.Result{Output: "recovered", Success: true}, nil
		})))

	return reg
}

func newTestRuntime(t *testing.T, pipelines string, opts ...Option) *WorkspaceRuntime {
	t.Helper()
	settings, err := workspace.Parse([]byte(testShops + pipelines))
	require.NoError(t, err)

	base := []Option{
		WithRegistry(testRegistry(t)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	rt, err := New(settings, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func stepNames(results []StepResult) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Step
	}
	return names
}

func TestRunPipeline_LoopThenTechnique(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  scenario:
    steps:
      - name: each
        loop:
          for_each: [1, 2, 3]
          steps:
            - name: A
              use: t.value
              params:
                value: "{{ item }}"
      - name: B
        use: t.value
        params:
          value: done
`)

	res := rt.RunPipeline(context.Background(), "scenario", nil)
	require.True(t, res.OK, "error: %+v", res.Error)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "done", res.Data[LastResultKey])
	assert.Equal(t, "done", res.Data["value_result"])
	assert.Equal(t, []string{"A", "A", "A", "B"}, stepNames(res.StepResults))

	outputs := []any{}
	for _, r := range res.StepResults[:3] {
		outputs = append(outputs, r.Output)
		assert.Equal(t, StepStatusSuccess, r.Status)
		assert.Equal(t, workspace.KindTechnique, r.Kind)
		assert.Equal(t, 1, r.Attempts)
	}
	assert.Equal(t, []any{1, 2, 3}, outputs)
	assert.NotEmpty(t, res.TraceID)
	assert.NotEmpty(t, res.RunID)
	assert.Nil(t, res.Budget, "no budgets configured")
}

func TestRunPipeline_InputAndEnv(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  greet:
    steps:
      - use: t.value
        params:
          value: "{{ input.name }} from {{ env.REGION }}"
      - use: t.value
        params:
          value: "{{ input.count }}"
`, WithEnv(map[string]string{"REGION": "eu"}))

	res := rt.RunPipeline(context.Background(), "greet", map[string]any{"name": "ada", "count": 3})
	require.True(t, res.OK, "error: %+v", res.Error)
	assert.Equal(t, "ada from eu", res.StepResults[0].Output)
	assert.Equal(t, 3, res.Data[LastResultKey])
}

func TestRunPipeline_Condition(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  gated:
    steps:
      - name: always
        use: t.value
        params:
          value: 1
      - name: maybe
        condition: "{{ input.enabled }}"
        use: t.value
        params:
          value: 2
`)

	res := rt.RunPipeline(context.Background(), "gated", map[string]any{"enabled": false})
	require.True(t, res.OK)
	assert.Equal(t, []string{"always"}, stepNames(res.StepResults))
	assert.Equal(t, 1, res.Data[LastResultKey])

	res = rt.RunPipeline(context.Background(), "gated", map[string]any{"enabled": "yes"})
	require.True(t, res.OK)
	assert.Equal(t, []string{"always", "maybe"}, stepNames(res.StepResults))
}

func TestRunPipeline_Errors(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  plain:
    steps:
      - name: explode
        use: t.fail
  soft:
    steps:
      - name: weak
        use: t.soft_fail
  unknown_technique:
    steps:
      - use: t.missing
  unknown_shop:
    steps:
      - use: nowhere.value
  bad_condition:
    steps:
      - condition: "{{ 1 + }}"
        use: t.value
`)

	tests := []struct {
		pipeline string
		wantType string
		wantStep string
	}{
		{"plain", errors.TypeExecution, "explode"},
		{"soft", errors.TypeExecution, "weak"},
		{"unknown_technique", errors.TypeResolution, "t.missing"},
		{"unknown_shop", errors.TypeResolution, "nowhere.value"},
		{"bad_condition", errors.TypeCondition, "t.value"},
		{"no_such_pipeline", errors.TypeResolution, ""},
	}
	for _, tt := range tests {
		t.Run(tt.pipeline, func(t *testing.T) {
			res := rt.RunPipeline(context.Background(), tt.pipeline, nil)
			assert.False(t, res.OK)
			assert.Equal(t, StatusError, res.Status)
			assert.Nil(t, res.Data)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.wantType, res.Error.Type)
			assert.Equal(t, tt.wantStep, res.Error.Step)
			assert.NotEmpty(t, res.TraceID)
		})
	}
}

func TestRunPipeline_SoftFailureKeepsOutput(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  soft:
    steps:
      - use: t.soft_fail
`)
	res := rt.RunPipeline(context.Background(), "soft", nil)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "not good enough")
	assert.Equal(t, "partial", res.Error.Details["output"])
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, StepStatusFailed, res.StepResults[0].Status)
}

func TestRunPipeline_PipelineBudget(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  spend:
    budget:
      max_tokens: 100
    steps:
      - name: first
        use: t.value
        config:
          tokens: 60
      - name: second
        use: t.value
        config:
          tokens: 41
      - name: third
        use: t.value
`)

	res := rt.RunPipeline(context.Background(), "spend", nil)
	require.False(t, res.OK)
	assert.Equal(t, errors.TypeBudgetExceeded, res.Error.Type)
	assert.Equal(t, "second", res.Error.Step)
	assert.Equal(t, "pipeline", res.Error.Details["scope"])
	assert.Equal(t, "tokens", res.Error.Details["metric"])
	assert.Equal(t, float64(101), res.Error.Details["actual"])
	assert.Equal(t, []string{"first", "second"}, stepNames(res.StepResults))

	require.NotNil(t, res.Budget)
	assert.Equal(t, int64(101), res.Budget.Pipeline.Used.Tokens)
}

func TestRunPipeline_StepBudget(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  meter:
    steps:
      - name: once
        use: t.meter
        budget:
          max_requests: 1
        params:
          requests: 1
      - name: twice
        use: t.meter
        budget:
          max_requests: 1
        params:
          requests: 2
`)

	res := rt.RunPipeline(context.Background(), "meter", nil)
	require.False(t, res.OK)
	assert.Equal(t, errors.TypeBudgetExceeded, res.Error.Type)
	assert.Equal(t, "twice", res.Error.Step)
	assert.Equal(t, "step", res.Error.Details["scope"])
	assert.Equal(t, "requests", res.Error.Details["metric"])

	require.NotNil(t, res.Budget)
	assert.Equal(t, int64(3), res.Budget.Pipeline.Used.Requests)
}

func TestRunPipeline_GlobalBudgetSpansRuns(t *testing.T) {
	settings, err := workspace.Parse([]byte(testShops + `
budget:
  max_requests: 3
pipelines:
  meter:
    steps:
      - use: t.meter
        params:
          requests: 2
`))
	require.NoError(t, err)
	rt, err := New(settings, WithRegistry(testRegistry(t)), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	first := rt.RunPipeline(context.Background(), "meter", nil)
	require.True(t, first.OK)
	require.NotNil(t, first.Budget.Global)

	second := rt.RunPipeline(context.Background(), "meter", nil)
	require.False(t, second.OK)
	assert.Equal(t, "global", second.Error.Details["scope"])
	assert.Equal(t, int64(4), rt.GlobalUsage().Requests)
}

func TestRunPipeline_StepTimeout(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  slow:
    steps:
      - name: nap
        timeout: 50ms
        use: t.sleep
        params:
          delay: 5s
`)

	start := time.Now()
	res := rt.RunPipeline(context.Background(), "slow", nil)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.False(t, res.OK)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, errors.TypeTimeout, res.Error.Type)
	assert.Equal(t, "nap", res.Error.Step)
	assert.Equal(t, "step", res.Error.Details["scope"])
	assert.Equal(t, int64(50), res.Error.Details["timeout_ms"])
}

func TestRunPipeline_DefaultStepTimeout(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  slow:
    steps:
      - use: t.sleep
        params:
          delay: 5s
`, WithDefaultStepTimeout(30*time.Millisecond))

	res := rt.RunPipeline(context.Background(), "slow", nil)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, "step", res.Error.Details["scope"])
}

func TestRunPipeline_PipelineTimeout(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  slow:
    timeout: 50ms
    steps:
      - use: t.value
      - loop:
          for_each: [1, 2]
          steps:
            - use: t.sleep
              params:
                delay: 5s
`)

	res := rt.RunPipeline(context.Background(), "slow", nil)
	require.False(t, res.OK)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, "pipeline", res.Error.Details["scope"])
	assert.Equal(t, "slow", res.Error.Details["operation"])
}

func TestRunPipeline_Cancelled(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  slow:
    steps:
      - name: nap
        use: t.sleep
        params:
          delay: 5s
`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := rt.RunPipeline(ctx, "slow", nil)
	require.False(t, res.OK)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, errors.TypeCancelled, res.Error.Type)
	assert.Equal(t, "nap", res.Error.Step)
}

func TestRunPipeline_Retry(t *testing.T) {
	pipelines := `
pipelines:
  flaky:
    steps:
      - name: wobble
        use: t.flaky
        retry:
          max_attempts: 3
          backoff: 1ms
          multiplier: 2
`

	rt := newTestRuntime(t, pipelines)
	res := rt.RunPipeline(context.Background(), "flaky", nil)
	require.False(t, res.OK, "retry hints are ignored by default")
	assert.Equal(t, 1, res.StepResults[0].Attempts)

	rt = newTestRuntime(t, pipelines, WithRetryPolicy(BackoffRetry{}))
	res = rt.RunPipeline(context.Background(), "flaky", nil)
	require.True(t, res.OK, "error: %+v", res.Error)
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, 3, res.StepResults[0].Attempts)
	assert.Equal(t, "recovered", res.Data["flaky_result"])
}

func TestRunPipeline_Tools(t *testing.T) {
	tools := &fakeTools{}
	rt := newTestRuntime(t, `
pipelines:
  lookup:
    steps:
      - name: search
        shop: mcp
        provider: web
        tool: search
        params:
          query: "{{ input.q }}"
  missing_tool:
    steps:
      - shop: mcp
        provider: web
        tool: delete_everything
  missing_provider:
    steps:
      - shop: mcp
        provider: nowhere
        tool: search
`, WithToolProviders(tools))

	res := rt.RunPipeline(context.Background(), "lookup", map[string]any{"q": "sibyl"})
	require.True(t, res.OK, "error: %+v", res.Error)
	assert.Equal(t, map[string]any{"query": "sibyl"}, res.Data["search_result"])
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, workspace.KindTool, res.StepResults[0].Kind)
	assert.Equal(t, "mcp:web/search", res.StepResults[0].Ref)
	assert.Equal(t, int64(1), res.StepResults[0].Usage.Requests)

	res = rt.RunPipeline(context.Background(), "missing_tool", nil)
	require.False(t, res.OK)
	assert.Equal(t, errors.TypeResolution, res.Error.Type)
	assert.Equal(t, "tool", res.Error.Details["kind"])

	res = rt.RunPipeline(context.Background(), "missing_provider", nil)
	require.False(t, res.OK)
	assert.Equal(t, "provider", res.Error.Details["kind"])
	assert.Equal(t, int32(1), tools.calls.Load())
}

func TestRunPipeline_ToolsNotConfigured(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  lookup:
    steps:
      - shop: mcp
        provider: web
        tool: search
`)
	res := rt.RunPipeline(context.Background(), "lookup", nil)
	require.False(t, res.OK)
	assert.Equal(t, errors.TypeResolution, res.Error.Type)
}

func TestResult_JSON(t *testing.T) {
	rt := newTestRuntime(t, `
pipelines:
  p:
    budget:
      max_cost_usd: 1
    steps:
      - use: t.echo
        params:
          text: hi
        config:
          cost_usd: 0.25
`)
	res := rt.RunPipeline(context.Background(), "p", nil)
	require.True(t, res.OK, "error: %+v", res.Error)

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, "success", decoded["status"])
	assert.Contains(t, decoded, "trace_id")
	assert.Contains(t, decoded, "duration_ms")
	assert.Len(t, decoded["step_results"], 1)
	assert.Equal(t, 0.25, res.Budget.Pipeline.Used.CostUSD)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&workspace.Settings{})
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr))

	rt := newTestRuntime(t, `
pipelines:
  b:
    steps:
      - use: t.value
  a:
    steps:
      - use: t.value
`)
	assert.Equal(t, []string{"a", "b"}, rt.Pipelines())
}

type fakeTools struct {
	calls atomic.Int32
}

func (f *fakeTools) Provider(_ context.Context, name string) (ToolProvider, error) {
	if name != "web" {
		return nil, &errors.ResolutionError{Kind: "provider", Name: name, Reason: "not configured"}
	}
	return f, nil
}

func (f *fakeTools) HasTool(_ context.Context, tool string) (bool, error) {
	return tool == "search", nil
}

func (f *fakeTools) CallTool(_ context.Context, _ string, args map[string]any) (any, error) {
	f.calls.Add(1)
	return map[string]any{"query": args["query"]}, nil
}
