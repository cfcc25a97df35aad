package budget

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }

func requireExceeded(t *testing.T, err error, scope, metric string) *errors.BudgetExceededError {
	t.Helper()
	var bErr *errors.BudgetExceededError
	require.True(t, errors.As(err, &bErr), "expected BudgetExceededError, got %v", err)
	assert.Equal(t, scope, bErr.Scope)
	assert.Equal(t, metric, bErr.Metric)
	return bErr
}

func TestTracker_PipelineTokensExceeded(t *testing.T) {
	pipeline := NewAccount(ScopePipeline, &workspace.Budget{MaxTokens: int64Ptr(100)})
	tracker := NewTracker(nil, pipeline)

	tracker.ResetStep(nil)
	require.NoError(t, tracker.CheckBefore())
	tracker.Record(Usage{Tokens: 100})
	require.NoError(t, tracker.CheckAfter(), "reaching the ceiling is not a violation")

	tracker.ResetStep(nil)
	require.NoError(t, tracker.CheckBefore())
	tracker.Record(Usage{Tokens: 1})

	bErr := requireExceeded(t, tracker.CheckAfter(), ScopePipeline, MetricTokens)
	assert.Equal(t, float64(100), bErr.Limit)
	assert.Equal(t, float64(101), bErr.Actual)

	requireExceeded(t, tracker.CheckBefore(), ScopePipeline, MetricTokens)
}

func TestTracker_StepRequestsExceededWithinStep(t *testing.T) {
	pipeline := NewAccount(ScopePipeline, &workspace.Budget{MaxRequests: int64Ptr(100)})
	tracker := NewTracker(nil, pipeline)

	tracker.ResetStep(&workspace.Budget{MaxRequests: int64Ptr(1)})
	require.NoError(t, tracker.Charge(Usage{Requests: 1}))
	requireExceeded(t, tracker.Charge(Usage{Requests: 1}), ScopeStep, MetricRequests)

	// the next step starts from zero
	tracker.ResetStep(&workspace.Budget{MaxRequests: int64Ptr(1)})
	assert.NoError(t, tracker.Charge(Usage{Requests: 1}))
	assert.Equal(t, int64(3), pipeline.Used().Requests)
}

func TestTracker_NarrowestScopeFirst(t *testing.T) {
	global := NewAccount(ScopeGlobal, &workspace.Budget{MaxCostUSD: float64Ptr(0.5)})
	pipeline := NewAccount(ScopePipeline, &workspace.Budget{MaxCostUSD: float64Ptr(0.5)})
	tracker := NewTracker(global, pipeline)

	tracker.ResetStep(&workspace.Budget{MaxCostUSD: float64Ptr(0.5)})
	tracker.Record(Usage{CostUSD: 1})
	requireExceeded(t, tracker.CheckAfter(), ScopeStep, MetricCost)

	tracker.ResetStep(nil)
	requireExceeded(t, tracker.CheckBefore(), ScopePipeline, MetricCost)
}

func TestTracker_GlobalAccountSpansRuns(t *testing.T) {
	global := NewAccount(ScopeGlobal, &workspace.Budget{MaxTokens: int64Ptr(10)})

	first := NewTracker(global, NewAccount(ScopePipeline, nil))
	first.ResetStep(nil)
	first.Record(Usage{Tokens: 8})
	require.NoError(t, first.CheckAfter())

	second := NewTracker(global, NewAccount(ScopePipeline, nil))
	second.ResetStep(nil)
	require.NoError(t, second.CheckBefore())
	second.Record(Usage{Tokens: 3})
	requireExceeded(t, second.CheckAfter(), ScopeGlobal, MetricTokens)
}

func TestTracker_ForkKeepsStepCountersPrivate(t *testing.T) {
	pipeline := NewAccount(ScopePipeline, nil)
	parent := NewTracker(nil, pipeline)
	parent.ResetStep(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		branch := parent.Fork()
		wg.Add(1)
		go func() {
			defer wg.Done()
			branch.ResetStep(&workspace.Budget{MaxRequests: int64Ptr(5)})
			for j := 0; j < 5; j++ {
				assert.NoError(t, branch.Charge(Usage{Requests: 1}))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(40), pipeline.Used().Requests)
	assert.True(t, parent.StepUsage().IsZero())
}

func TestTracker_Summary(t *testing.T) {
	tracker := NewTracker(NewAccount(ScopeGlobal, nil), NewAccount(ScopePipeline, &workspace.Budget{MaxTokens: int64Ptr(5)}))
	assert.True(t, tracker.Configured())

	tracker.Record(Usage{Tokens: 2, Requests: 1})
	s := tracker.Summary()
	assert.Equal(t, Usage{Tokens: 2, Requests: 1}, s.Pipeline.Used)
	assert.Nil(t, s.Global, "global summary is omitted without global limits")

	assert.False(t, NewTracker(NewAccount(ScopeGlobal, nil), NewAccount(ScopePipeline, nil)).Configured())
}

func TestChargeFromContext(t *testing.T) {
	assert.NoError(t, Charge(context.Background(), Usage{Tokens: 1}))

	tracker := NewTracker(nil, NewAccount(ScopePipeline, &workspace.Budget{MaxTokens: int64Ptr(1)}))
	ctx := WithTracker(context.Background(), tracker)
	require.Same(t, tracker, FromContext(ctx))

	assert.NoError(t, Charge(ctx, Usage{Tokens: 1}))
	requireExceeded(t, Charge(ctx, Usage{Tokens: 1}), ScopePipeline, MetricTokens)
}
