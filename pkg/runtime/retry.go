package runtime

import (
	"math"
	"time"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// RetryPolicy decides whether a failed leaf step runs again.
type RetryPolicy interface {
	// Next is called after attempt (starting at 1) failed with err. It
	// returns the delay before the next attempt and whether to retry.
	Next(step *workspace.Step, attempt int, err error) (time.Duration, bool)
}

// NoRetry never retries. A step's retry block is accepted and ignored.
type NoRetry struct{}

// Next implements RetryPolicy.
func (NoRetry) Next(*workspace.Step, int, error) (time.Duration, bool) {
	return 0, false
}

// BackoffRetry honours a step's retry block: up to max_attempts attempts,
// waiting backoff * multiplier^(attempt-1) between them. Only errors
// classified as retryable are retried.
type BackoffRetry struct{}

// Next implements RetryPolicy.
func (BackoffRetry) Next(step *workspace.Step, attempt int, err error) (time.Duration, bool) {
	r := step.Retry
	if r == nil || attempt >= r.MaxAttempts || !errors.IsRetryable(err) {
		return 0, false
	}

	multiplier := r.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(r.Backoff.Std()) * math.Pow(multiplier, float64(attempt-1))
	return time.Duration(delay), true
}
