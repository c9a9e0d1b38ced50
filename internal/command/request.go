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

package command

import "time"

// Spec is the command itself: what to run and how the runner should invoke
// it. Program/Args are used directly for Shell/Test/Handler; Claude requests
// carry Prompt instead and the executor resolves it to a program invocation.
type Spec struct {
	Kind    Kind
	Program string
	Args    []string
	Prompt  string // Claude only

	// HandlerArgs is the structured argument map a Handler kind dispatches
	// with instead of an argv. Unused by the other three kinds.
	HandlerArgs map[string]any
}

// ExecConfig controls how a request is run, independent of what it runs.
type ExecConfig struct {
	Timeout         time.Duration
	Capture         CaptureMode
	WorkingDir      string
	Env             []string
	ExpectedPattern string   // any kind: stdout must match
	ForbiddenRegex  []string // stdout must not match any
	ExpectedExit    *int     // Test kind: mismatch is a non-retryable failure
}

// ExecContext is the variable/working-directory/env state a request runs
// against, layered in from the caller's scope.
type ExecContext struct {
	Variables  map[string]string
	WorkingDir string
	Env        []string
}

// Metadata is caller-supplied bookkeeping echoed back on the result.
type Metadata struct {
	StepID  string
	RunID   string
	ItemID  string
	TraceID string
}

// Request bundles a command spec with how to run it.
type Request struct {
	Spec     Spec
	Config   ExecConfig
	Context  ExecContext
	Metadata Metadata
	Stdin    []byte
}

// IssueLevel classifies a validation finding.
type IssueLevel int

const (
	IssueWarning IssueLevel = iota
	IssueError
	// IssueSecurityError rejects the request like IssueError, but marks the
	// rejection as a pre-spawn security screen (injection metachars, denied
	// programs) rather than a plain validation failure, so Execute can map it
	// onto FailureSecurityViolation instead of FailureValidationFailed.
	IssueSecurityError
)

// Issue is one finding from Validate. Level IssueError and IssueSecurityError
// both reject the request before it is ever spawned.
type Issue struct {
	Level   IssueLevel
	Message string
}
