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

package shared

import (
	"fmt"
	"io"
	"os"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitPipelineFailed   = 1
	ExitInvalidWorkspace = 2
	ExitInvalidInput     = 3
	ExitConfigError      = 4
)

// ExitError carries the process exit code for a command failure. An empty
// Message means the command already reported the failure.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewPipelineFailedError is returned when a pipeline run did not succeed.
func NewPipelineFailedError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitPipelineFailed, Message: msg, Cause: cause}
}

// NewInvalidWorkspaceError is returned when the workspace file cannot be
// loaded or validated.
func NewInvalidWorkspaceError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidWorkspace, Message: msg, Cause: cause}
}

// NewInvalidInputError is returned for malformed --param or --input values.
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// NewConfigError is returned when the process configuration is invalid.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(ReportError(os.Stderr, err))
}

// ReportError writes err and any suggestion to w and returns the exit code.
func ReportError(w io.Writer, err error) int {
	code := ExitPipelineFailed
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
		if exitErr.Message == "" && exitErr.Cause == nil {
			return code
		}
	}

	fmt.Fprintln(w, "Error:", err.Error())
	if suggestion := suggestionOf(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
	return code
}

// suggestionOf finds the first remediation hint in err's chain.
func suggestionOf(err error) string {
	var valErr *errors.ValidationError
	if errors.As(err, &valErr) && valErr.Suggestion != "" {
		return valErr.Suggestion
	}
	var hinted interface{ Suggestion() string }
	if errors.As(err, &hinted) {
		return hinted.Suggestion()
	}
	return ""
}

// Problem is the JSON form of an error for --json output.
type Problem struct {
	Type       string         `json:"type"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// ProblemOf classifies err for JSON output.
func ProblemOf(err error) *Problem {
	if err == nil {
		return nil
	}
	p := &Problem{
		Type:       errors.TypeOf(err),
		Message:    err.Error(),
		Suggestion: suggestionOf(err),
	}
	if details := errors.DetailsOf(err); len(details) > 0 {
		p.Details = details
	}
	return p
}
