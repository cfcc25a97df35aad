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

package mcp

import (
	"fmt"
	"strings"
)

// ProviderErrorCode represents a category of provider failure.
type ProviderErrorCode string

const (
	// ErrorCodeNotFound indicates the provider is not configured.
	ErrorCodeNotFound ProviderErrorCode = "NOT_FOUND"
	// ErrorCodeCommandNotFound indicates a stdio command was not found.
	ErrorCodeCommandNotFound ProviderErrorCode = "COMMAND_NOT_FOUND"
	// ErrorCodeConnectFailed indicates the provider could not be reached or initialized.
	ErrorCodeConnectFailed ProviderErrorCode = "CONNECT_FAILED"
	// ErrorCodeClosed indicates the manager was closed.
	ErrorCodeClosed ProviderErrorCode = "CLOSED"
)

// ProviderError describes why a provider could not be connected, with
// suggestions for fixing the workspace.
type ProviderError struct {
	// Code is the error category.
	Code ProviderErrorCode
	// Provider is the provider name.
	Provider string
	// Message is the primary error message.
	Message string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Suggestion returns the first suggestion, or "".
func (e *ProviderError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

func errUnknownProvider(name string) *ProviderError {
	return &ProviderError{
		Code:     ErrorCodeNotFound,
		Provider: name,
		Message:  fmt.Sprintf("MCP provider '%s' is not configured", name),
		Suggestions: []string{
			fmt.Sprintf("Add '%s' under providers in the workspace", name),
		},
	}
}

func errCommandNotFound(name, command string, cause error) *ProviderError {
	suggestions := []string{
		"Verify the command is installed and in your PATH",
		fmt.Sprintf("Use an absolute path: command: /path/to/%s", command),
	}
	switch command {
	case "npx", "node":
		suggestions = append(suggestions, "Install Node.js: https://nodejs.org/")
	case "python", "python3", "uvx":
		suggestions = append(suggestions, "Install Python: https://python.org/")
	}
	return &ProviderError{
		Code:        ErrorCodeCommandNotFound,
		Provider:    name,
		Message:     fmt.Sprintf("command '%s' not found", command),
		Suggestions: suggestions,
		Cause:       cause,
	}
}

func errConnectFailed(name string, cause error) *ProviderError {
	return &ProviderError{
		Code:     ErrorCodeConnectFailed,
		Provider: name,
		Message:  fmt.Sprintf("failed to connect to MCP provider '%s'", name),
		Suggestions: []string{
			"Verify the provider command or URL is correct",
			"Ensure required environment variables and headers are set",
		},
		Cause: cause,
	}
}

func errClosed(name string) *ProviderError {
	return &ProviderError{
		Code:     ErrorCodeClosed,
		Provider: name,
		Message:  "MCP manager is closed",
	}
}
