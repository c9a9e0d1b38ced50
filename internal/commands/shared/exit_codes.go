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
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// Exit codes for the cook CLI.
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitArgumentError   = 2
	ExitInterrupted     = 3
	ExitPreflightFailed = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for workflow execution failures.
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitGeneralError,
		Message: msg,
		Cause:   cause,
	}
}

// NewArgumentError creates an error for invalid CLI arguments or workflow
// documents that fail to parse.
func NewArgumentError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitArgumentError,
		Message: msg,
		Cause:   cause,
	}
}

// NewInterruptedError creates an error for a run cancelled before completion.
func NewInterruptedError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInterrupted,
		Message: msg,
		Cause:   cause,
	}
}

// NewPreflightError creates an error for preflight check failures (not a git
// repository, AI-assistant CLI unavailable).
func NewPreflightError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitPreflightFailed,
		Message: msg,
		Cause:   cause,
	}
}

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		// Print the message with an "Error:" prefix unless it is empty
		msg := exitErr.Error()
		if len(msg) > 0 {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}

		// Check if the error (or any in the chain) implements UserVisibleError
		printUserVisibleSuggestion(err)

		os.Exit(exitErr.Code)
	}

	// Default to general error
	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	// Check if the error implements UserVisibleError
	printUserVisibleSuggestion(err)

	os.Exit(ExitGeneralError)
}

// printUserVisibleSuggestion checks if an error implements UserVisibleError
// and prints the suggestion if available.
func printUserVisibleSuggestion(err error) {
	// Walk the error chain to find a UserVisibleError
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				suggestion := userErr.Suggestion()
				if suggestion != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}

		// Continue unwrapping
		err = errors.Unwrap(err)
	}
}
