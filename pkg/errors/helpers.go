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
	"errors"
	"fmt"
	"reflect"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
//
// Usage:
//
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "doing something")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type,
// and if one is found, sets target to that error value and returns true.
// This is a convenience wrapper around errors.As from the standard library.
//
// Usage:
//
//	var budgetErr *BudgetExceededError
//	if errors.As(err, &budgetErr) {
//	    log.Printf("budget exceeded at scope: %s", budgetErr.Scope)
//	}
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err,
// if err's type contains an Unwrap method returning error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Root strips every StepError layer from err and returns the original error
// raised by the failing technique, tool or control-flow construct.
func Root(err error) error {
	for {
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			return err
		}
		err = stepErr.Err
	}
}

// StepOf returns the name of the innermost step that err is attributed to,
// or "" if err carries no step reference.
func StepOf(err error) string {
	step := ""
	for {
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			return step
		}
		step = stepErr.Step
		err = stepErr.Err
	}
}

// TypeOf returns the type name used to match err in catch blocks.
// Classified errors report their own type; errors created by the standard
// library are treated as execution failures; any other error reports its
// Go type name.
func TypeOf(err error) string {
	err = Root(err)
	if err == nil {
		return ""
	}

	var classified ErrorClassifier
	if errors.As(err, &classified) {
		return classified.ErrorType()
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.PkgPath() {
	case "", "errors", "fmt":
		return TypeExecution
	}
	return t.Name()
}

// DetailsOf returns structured details for err, or an empty map.
func DetailsOf(err error) map[string]any {
	err = Root(err)
	var detailed interface{ Details() map[string]any }
	if errors.As(err, &detailed) {
		if d := detailed.Details(); d != nil {
			return d
		}
	}
	return map[string]any{}
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	var classified ErrorClassifier
	if errors.As(Root(err), &classified) {
		return classified.IsRetryable()
	}
	return false
}
