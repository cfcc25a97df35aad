package runtime

import (
	"sync"
	"time"

	"github.com/omarrsalif594/sibyl-sub000/pkg/budget"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// Status is the outcome of a pipeline run.
type Status string

const (
	// StatusSuccess means every step completed.
	StatusSuccess Status = "success"
	// StatusError means a step failed and no catch block handled it.
	StatusError Status = "error"
	// StatusTimeout means a step, parallel or pipeline deadline expired.
	StatusTimeout Status = "timeout"
	// StatusCancelled means the caller cancelled the run.
	StatusCancelled Status = "cancelled"
)

// StepStatus represents the outcome of a leaf step.
type StepStatus string

const (
	// StepStatusSuccess indicates the step completed successfully.
	StepStatusSuccess StepStatus = "success"
	// StepStatusFailed indicates the step failed.
	StepStatusFailed StepStatus = "failed"
)

// Result is the envelope returned by RunPipeline. Data is set on success
// and Error on failure.
type Result struct {
	OK          bool            `json:"ok"`
	Status      Status          `json:"status"`
	Pipeline    string          `json:"pipeline"`
	RunID       string          `json:"run_id"`
	Data        map[string]any  `json:"data,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
	TraceID     string          `json:"trace_id"`
	DurationMS  int64           `json:"duration_ms"`
	Budget      *budget.Summary `json:"budget,omitempty"`
	StepResults []StepResult    `json:"step_results"`
}

// ErrorInfo is the public description of a failure.
type ErrorInfo struct {
	// Type is the error kind, e.g. "ResolutionError" or "TimeoutError"
	Type string `json:"type"`

	// Message is the original error's message
	Message string `json:"message"`

	// Step is the innermost step the error is attributed to
	Step string `json:"step,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}

// newErrorInfo describes err by its original identity, looking through
// step references.
func newErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{
		Type:    errors.TypeOf(err),
		Message: errors.Root(err).Error(),
		Step:    errors.StepOf(err),
	}
	if details := errors.DetailsOf(err); len(details) > 0 {
		info.Details = details
	}
	return info
}

// namespace returns the value bound to {{ error }} inside catch blocks.
func (e *ErrorInfo) namespace() map[string]any {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	return map[string]any{
		"type":    e.Type,
		"message": e.Message,
		"step":    e.Step,
		"details": details,
	}
}

// StepResult records one attempted leaf step. Results are never modified
// after they are appended.
type StepResult struct {
	Step       string         `json:"step"`
	Ref        string         `json:"ref"`
	Kind       workspace.Kind `json:"kind"`
	Status     StepStatus     `json:"status"`
	Output     any            `json:"output,omitempty"`
	Error      *ErrorInfo     `json:"error,omitempty"`
	Usage      budget.Usage   `json:"usage"`
	Attempts   int            `json:"attempts"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
}

// stepLog is the append-only list of step results for a run. Parallel
// branches append concurrently.
type stepLog struct {
	mu      sync.Mutex
	results []StepResult
}

func (l *stepLog) append(r StepResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *stepLog) snapshot() []StepResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StepResult, len(l.results))
	copy(out, l.results)
	return out
}

// statusOf maps a run error to an envelope status.
func statusOf(err error) Status {
	switch errors.TypeOf(err) {
	case "":
		return StatusSuccess
	case errors.TypeTimeout:
		return StatusTimeout
	case errors.TypeCancelled:
		return StatusCancelled
	default:
		return StatusError
	}
}
