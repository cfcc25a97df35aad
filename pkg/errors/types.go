// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"time"
)

// Error type names exposed to pipelines through the error namespace
// ({{ error.type }}) and to callers through the result envelope.
const (
	TypeValidation     = "ValidationError"
	TypeConfig         = "ConfigError"
	TypeResolution     = "ResolutionError"
	TypeBudgetExceeded = "BudgetExceededError"
	TypeTimeout        = "TimeoutError"
	TypeCancelled      = "CancelledError"
	TypeExecution      = "ExecutionError"
	TypeCondition      = "ConditionError"
)

// ValidationError represents a malformed step, loop, parallel or try shape.
// Workspace trees are validated before they reach the runtime, so this is
// normally raised while parsing configuration.
type ValidationError struct {
	// Field identifies which configuration field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return TypeValidation }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// ConfigError represents configuration problems discovered at run time,
// such as a for_each expression that does not produce a collection.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "for_each", "providers.search")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return TypeConfig }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// ResolutionError is returned when a shop, technique, provider or tool
// cannot be resolved. Catch blocks match it by type, so resolution failures
// must never surface as a generic error.
type ResolutionError struct {
	// Kind is what failed to resolve: "shop", "technique", "reference", "provider" or "tool"
	Kind string

	// Name is the identifier that could not be resolved
	Name string

	// Reason explains why resolution failed
	Reason string

	// Cause is the underlying error (e.g., a factory or connection failure)
	Cause error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %s %q", e.Kind, e.Name)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ResolutionError) ErrorType() string { return TypeResolution }

// IsRetryable implements ErrorClassifier.
func (e *ResolutionError) IsRetryable() bool { return false }

// Details exposes structured data for the error namespace.
func (e *ResolutionError) Details() map[string]any {
	return map[string]any{"kind": e.Kind, "name": e.Name}
}

// BudgetExceededError is returned when a cost, token or request ceiling is
// exceeded at a named scope.
type BudgetExceededError struct {
	// Scope is the tightest exceeded scope: "step", "pipeline" or "global"
	Scope string

	// Metric is the exceeded counter: "cost_usd", "tokens" or "requests"
	Metric string

	// Limit is the configured ceiling
	Limit float64

	// Actual is the observed usage at the time of the check
	Actual float64
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded for %s: %g > %g", e.Scope, e.Metric, e.Actual, e.Limit)
}

// ErrorType implements ErrorClassifier.
func (e *BudgetExceededError) ErrorType() string { return TypeBudgetExceeded }

// IsRetryable implements ErrorClassifier.
func (e *BudgetExceededError) IsRetryable() bool { return false }

// Details exposes structured data for the error namespace.
func (e *BudgetExceededError) Details() map[string]any {
	return map[string]any{
		"scope":  e.Scope,
		"metric": e.Metric,
		"limit":  e.Limit,
		"actual": e.Actual,
	}
}

// TimeoutError represents a step, parallel block or pipeline deadline.
type TimeoutError struct {
	// Scope is what timed out: "step", "parallel" or "pipeline"
	Scope string

	// Operation names the step or pipeline that timed out
	Operation string

	// Duration is the configured limit
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s %s timed out after %v", e.Scope, e.Operation, e.Duration)
	}
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return TypeTimeout }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

// Details exposes structured data for the error namespace.
func (e *TimeoutError) Details() map[string]any {
	return map[string]any{
		"scope":      e.Scope,
		"operation":  e.Operation,
		"timeout_ms": e.Duration.Milliseconds(),
	}
}

// CancelledError is returned when execution stops because the caller
// cancelled the run or a sibling parallel branch failed.
type CancelledError struct {
	// Operation names the step that observed the cancellation
	Operation string

	// Cause is the cancellation cause reported by the context
	Cause error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s cancelled", e.Operation)
	}
	return "execution cancelled"
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *CancelledError) ErrorType() string { return TypeCancelled }

// IsRetryable implements ErrorClassifier.
func (e *CancelledError) IsRetryable() bool { return false }

// ExecutionError represents a technique's or tool's own failure.
type ExecutionError struct {
	// Operation is the technique or tool reference that failed
	Operation string

	// Message is the human-readable error message
	Message string

	// Output is whatever the technique returned alongside the failure
	Output any

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Operation != "" {
		return fmt.Sprintf("%s failed: %s", e.Operation, msg)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ExecutionError) ErrorType() string { return TypeExecution }

// IsRetryable implements ErrorClassifier.
func (e *ExecutionError) IsRetryable() bool { return true }

// Details exposes structured data for the error namespace.
func (e *ExecutionError) Details() map[string]any {
	details := map[string]any{"operation": e.Operation}
	if e.Output != nil {
		details["output"] = e.Output
	}
	return details
}

// ConditionError represents a malformed condition or template expression.
type ConditionError struct {
	// Expression is the offending template or condition text
	Expression string

	// Cause is the underlying compile or evaluation error
	Cause error
}

// Error implements the error interface.
func (e *ConditionError) Error() string {
	return fmt.Sprintf("evaluate %q: %v", truncate(e.Expression, 80), e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConditionError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConditionError) ErrorType() string { return TypeCondition }

// IsRetryable implements ErrorClassifier.
func (e *ConditionError) IsRetryable() bool { return false }

// Details exposes structured data for the error namespace.
func (e *ConditionError) Details() map[string]any {
	return map[string]any{"expression": e.Expression}
}

// StepError attaches a step reference to an error raised while executing
// that step. It never changes the identity of the wrapped error: catch
// blocks and the result envelope look through it with Root.
type StepError struct {
	// Step is the step name
	Step string

	// Ref is the step's target ("shop.technique", "mcp:provider/tool", "loop", ...)
	Ref string

	// Err is the original error
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Ref != "" && e.Ref != e.Step {
		return fmt.Sprintf("step %s (%s): %v", e.Step, e.Ref, e.Err)
	}
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

// Unwrap returns the wrapped error.
func (e *StepError) Unwrap() error {
	return e.Err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
