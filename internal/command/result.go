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

// FailureKind is the closed taxonomy a non-succeeding Result carries.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNonZeroExit
	FailureProcessError
	FailureValidationFailed
	FailureSecurityViolation
	FailureResourceExhaustion
	FailureInternalError
)

// Status summarizes how the command finished.
type Status struct {
	Failure   FailureKind
	Message   string
	Retryable bool
}

// Succeeded reports whether the command completed with no failure.
func (s Status) Succeeded() bool { return s.Failure == FailureNone }

// retryableFor reports the default retryable bit for a failure kind, per
// the fixed taxonomy: non-zero exit and timeout are retryable, everything
// else that reflects a structural problem with the request is not.
func retryableFor(kind FailureKind) bool {
	return kind == FailureNonZeroExit
}

// ProcessedOutput is the captured/derived output of a command, shaped by its
// CaptureMode and kind-specific post-processing.
type ProcessedOutput struct {
	Stdout       string
	Stderr       string
	Structured   map[string]interface{}
	Format       string // "text", "json", "" when no structured data
	Warnings     []string
	ErrorSummary string // Shell kind: first matched known-error pattern
}

// ExecutionMeta records process identity for audit/debugging.
type ExecutionMeta struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Hostname    string
	PID         int
	ParentPID   int
	EnvHash     string
	TraceID     string
}

// Result is the normalized outcome of Execute.
type Result struct {
	ID            string
	Spec          Spec
	Status        Status
	Output        ProcessedOutput
	Duration      time.Duration
	ExitCode      int
	ResourceUsage ResourceEstimate
	Meta          ExecutionMeta
}
