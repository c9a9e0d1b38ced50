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
	"testing"

	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// mockUserVisibleError is a test implementation of UserVisibleError.
type mockUserVisibleError struct {
	message    string
	suggestion string
	visible    bool
}

func (e *mockUserVisibleError) Error() string        { return e.message }
func (e *mockUserVisibleError) IsUserVisible() bool  { return e.visible }
func (e *mockUserVisibleError) UserMessage() string  { return e.message }
func (e *mockUserVisibleError) Suggestion() string   { return e.suggestion }

func TestUserVisibleError_Direct(t *testing.T) {
	err := &mockUserVisibleError{
		message:    "preflight failed",
		suggestion: "run 'git init' first",
		visible:    true,
	}

	var userErr pkgerrors.UserVisibleError = err
	if !userErr.IsUserVisible() {
		t.Error("expected error to be user visible")
	}
	if userErr.Suggestion() != "run 'git init' first" {
		t.Errorf("expected suggestion, got %q", userErr.Suggestion())
	}
}

func TestUserVisibleError_Wrapped(t *testing.T) {
	inner := &mockUserVisibleError{
		message:    "lock held",
		suggestion: "wait for the other run to finish",
		visible:    true,
	}
	wrapped := fmt.Errorf("operation failed: %w", inner)

	var userErr pkgerrors.UserVisibleError
	if !errors.As(wrapped, &userErr) {
		t.Fatal("expected to unwrap UserVisibleError from wrapped error")
	}
	if userErr.Suggestion() != "wait for the other run to finish" {
		t.Errorf("expected suggestion from wrapped error, got %q", userErr.Suggestion())
	}
}

func TestUserVisibleError_NonUserVisibleError(t *testing.T) {
	regularErr := errors.New("some internal error")

	var userErr pkgerrors.UserVisibleError
	if errors.As(regularErr, &userErr) {
		t.Error("regular error should not implement UserVisibleError")
	}
}

func TestExitError_Unwrap(t *testing.T) {
	innerErr := errors.New("inner error")
	exitErr := NewExecutionError("execution failed", innerErr)

	unwrapped := errors.Unwrap(exitErr)
	if unwrapped != innerErr {
		t.Errorf("expected unwrapped error to be innerErr, got %v", unwrapped)
	}
}

func TestExitError_WithUserVisibleCause(t *testing.T) {
	cause := &mockUserVisibleError{
		message:    "resource not found",
		suggestion: "verify the resource ID",
		visible:    true,
	}

	exitErr := NewExecutionError("operation failed", cause)

	var userErr pkgerrors.UserVisibleError
	if !errors.As(exitErr, &userErr) {
		t.Fatal("expected to unwrap UserVisibleError from ExitError")
	}
	if userErr.Suggestion() != "verify the resource ID" {
		t.Errorf("expected suggestion from cause error, got %q", userErr.Suggestion())
	}
}

func TestExitCodes(t *testing.T) {
	cases := map[string]struct {
		code int
		want int
	}{
		"success":          {ExitSuccess, 0},
		"general error":    {ExitGeneralError, 1},
		"argument error":   {ExitArgumentError, 2},
		"interrupted":      {ExitInterrupted, 3},
		"preflight failed": {ExitPreflightFailed, 4},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if tc.code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, tc.code)
			}
		})
	}
}
