// Package budget meters cost, token and request usage and enforces ceilings
// at step, pipeline and global (workspace) scope.
//
// A runtime owns one global Account for its lifetime. Each pipeline run owns
// a pipeline Account and a Tracker; the Tracker adds step-scoped counters
// that are reset at every step boundary. Checks always run from the
// narrowest scope outwards so a violation is attributed to the tightest
// exceeded scope.
package budget

import (
	"context"
	"sync"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// Scope names reported in BudgetExceededError.
const (
	ScopeStep     = "step"
	ScopePipeline = "pipeline"
	ScopeGlobal   = "global"
)

// Metric names reported in BudgetExceededError.
const (
	MetricCost     = "cost_usd"
	MetricTokens   = "tokens"
	MetricRequests = "requests"
)

// Usage is an amount of metered work.
type Usage struct {
	CostUSD  float64 `json:"cost_usd"`
	Tokens   int64   `json:"tokens"`
	Requests int64   `json:"requests"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		CostUSD:  u.CostUSD + o.CostUSD,
		Tokens:   u.Tokens + o.Tokens,
		Requests: u.Requests + o.Requests,
	}
}

// IsZero reports whether u records no usage.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Limits are optional ceilings; nil fields are unlimited.
type Limits struct {
	MaxCostUSD  *float64 `json:"max_cost_usd,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`
	MaxRequests *int64   `json:"max_requests,omitempty"`
}

// LimitsFrom converts a workspace budget into Limits.
func LimitsFrom(b *workspace.Budget) Limits {
	if b == nil {
		return Limits{}
	}
	return Limits{MaxCostUSD: b.MaxCostUSD, MaxTokens: b.MaxTokens, MaxRequests: b.MaxRequests}
}

// IsZero reports whether no ceiling is set.
func (l Limits) IsZero() bool {
	return l.MaxCostUSD == nil && l.MaxTokens == nil && l.MaxRequests == nil
}

// check returns the first metric of u that is strictly greater than its
// ceiling, in cost, tokens, requests order.
func (l Limits) check(scope string, u Usage) error {
	if l.MaxCostUSD != nil && u.CostUSD > *l.MaxCostUSD {
		return &errors.BudgetExceededError{Scope: scope, Metric: MetricCost, Limit: *l.MaxCostUSD, Actual: u.CostUSD}
	}
	if l.MaxTokens != nil && u.Tokens > *l.MaxTokens {
		return &errors.BudgetExceededError{Scope: scope, Metric: MetricTokens, Limit: float64(*l.MaxTokens), Actual: float64(u.Tokens)}
	}
	if l.MaxRequests != nil && u.Requests > *l.MaxRequests {
		return &errors.BudgetExceededError{Scope: scope, Metric: MetricRequests, Limit: float64(*l.MaxRequests), Actual: float64(u.Requests)}
	}
	return nil
}

// Account accumulates usage for one scope. It is safe for concurrent use.
type Account struct {
	scope  string
	limits Limits

	mu   sync.Mutex
	used Usage
}

// NewAccount creates an account for scope with the given ceilings.
func NewAccount(scope string, b *workspace.Budget) *Account {
	return &Account{scope: scope, limits: LimitsFrom(b)}
}

// Scope returns the account's scope name.
func (a *Account) Scope() string {
	return a.scope
}

// Limits returns the account's ceilings.
func (a *Account) Limits() Limits {
	return a.limits
}

// Used returns the accumulated usage.
func (a *Account) Used() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// add records u and returns the new total.
func (a *Account) add(u Usage) Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used = a.used.Add(u)
	return a.used
}

// Check compares accumulated usage against the account's ceilings.
func (a *Account) Check() error {
	return a.limits.check(a.scope, a.Used())
}

// Tracker enforces budgets for one pipeline run or one parallel branch.
// The pipeline and global accounts are shared; step counters are private.
type Tracker struct {
	global   *Account
	pipeline *Account

	mu         sync.Mutex
	stepLimits Limits
	step       Usage
}

// NewTracker creates a tracker over the given accounts. Either may be nil.
func NewTracker(global, pipeline *Account) *Tracker {
	return &Tracker{global: global, pipeline: pipeline}
}

// Configured reports whether any scope has a ceiling.
func (t *Tracker) Configured() bool {
	if t.global != nil && !t.global.limits.IsZero() {
		return true
	}
	if t.pipeline != nil && !t.pipeline.limits.IsZero() {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stepLimits.IsZero()
}

// ResetStep starts a new step: step counters go back to zero and the step
// ceilings become b.
func (t *Tracker) ResetStep(b *workspace.Budget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stepLimits = LimitsFrom(b)
	t.step = Usage{}
}

// Record adds u to the step counters and to the pipeline and global accounts.
func (t *Tracker) Record(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(u)
}

func (t *Tracker) record(u Usage) (step, pipeline, global Usage) {
	t.step = t.step.Add(u)
	step = t.step
	if t.pipeline != nil {
		pipeline = t.pipeline.add(u)
	}
	if t.global != nil {
		global = t.global.add(u)
	}
	return step, pipeline, global
}

// CheckBefore verifies no scope is already over budget before a step runs.
func (t *Tracker) CheckBefore() error {
	return t.check()
}

// CheckAfter verifies the step's own usage and the cumulative totals after
// a step has run.
func (t *Tracker) CheckAfter() error {
	return t.check()
}

func (t *Tracker) check() error {
	t.mu.Lock()
	step, limits := t.step, t.stepLimits
	t.mu.Unlock()

	if err := limits.check(ScopeStep, step); err != nil {
		return err
	}
	if t.pipeline != nil {
		if err := t.pipeline.Check(); err != nil {
			return err
		}
	}
	if t.global != nil {
		if err := t.global.Check(); err != nil {
			return err
		}
	}
	return nil
}

// Charge records u and checks every scope against the totals that this
// charge produced, so concurrent chargers cannot interleave between the
// update and the comparison.
func (t *Tracker) Charge(u Usage) error {
	t.mu.Lock()
	step, pipeline, global := t.record(u)
	limits := t.stepLimits
	t.mu.Unlock()

	if err := limits.check(ScopeStep, step); err != nil {
		return err
	}
	if t.pipeline != nil {
		if err := t.pipeline.limits.check(ScopePipeline, pipeline); err != nil {
			return err
		}
	}
	if t.global != nil {
		if err := t.global.limits.check(ScopeGlobal, global); err != nil {
			return err
		}
	}
	return nil
}

// StepUsage returns the usage recorded since the last ResetStep.
func (t *Tracker) StepUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.step
}

// Fork returns a tracker for a parallel branch. It shares the pipeline and
// global accounts and has its own step counters.
func (t *Tracker) Fork() *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Tracker{global: t.global, pipeline: t.pipeline, stepLimits: t.stepLimits}
}

// ScopeSummary reports usage against limits for one scope.
type ScopeSummary struct {
	Used   Usage  `json:"used"`
	Limits Limits `json:"limits"`
}

// Summary is the budget section of a result envelope.
type Summary struct {
	Pipeline ScopeSummary  `json:"pipeline"`
	Global   *ScopeSummary `json:"global,omitempty"`
}

// Summary reports pipeline usage and, when the workspace sets limits,
// global usage.
func (t *Tracker) Summary() Summary {
	var s Summary
	if t.pipeline != nil {
		s.Pipeline = ScopeSummary{Used: t.pipeline.Used(), Limits: t.pipeline.limits}
	}
	if t.global != nil && !t.global.limits.IsZero() {
		s.Global = &ScopeSummary{Used: t.global.Used(), Limits: t.global.limits}
	}
	return s
}

type trackerKey struct{}

// WithTracker returns a context carrying t.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the tracker carried by ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// Charge charges u to the tracker carried by ctx. Techniques and tool
// providers use it to meter work as it happens. Without a tracker it is a
// no-op.
func Charge(ctx context.Context, u Usage) error {
	if t := FromContext(ctx); t != nil {
		return t.Charge(u)
	}
	return nil
}
