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

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/cookflow/cook/internal/process"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
	"github.com/google/uuid"
)

// Executor validates and runs command requests through a process.Runner.
type Executor struct {
	runner   process.Runner
	handlers *HandlerRegistry
}

// NewExecutor builds an Executor over the given process runner. Handler
// steps fail with "unknown handler" until WithHandlers attaches a registry.
func NewExecutor(runner process.Runner) *Executor {
	return &Executor{runner: runner, handlers: NewHandlerRegistry()}
}

// WithHandlers attaches the registry Handler-kind requests dispatch
// through, replacing the empty default.
func (e *Executor) WithHandlers(registry *HandlerRegistry) *Executor {
	e.handlers = registry
	return e
}

// Execute validates req, rejects it if validation produced an IssueError,
// spawns the underlying process per the kind's stdio policy, and returns a
// normalized Result.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	id := uuid.NewString()
	issues := Validate(req)
	if hasError(issues) {
		failure := FailureValidationFailed
		if hasSecurityError(issues) {
			failure = FailureSecurityViolation
		}
		return &Result{
			ID:     id,
			Spec:   req.Spec,
			Status: Status{Failure: failure, Message: firstError(issues), Retryable: false},
		}, nil
	}

	if req.Spec.Kind == Handler {
		return e.executeHandler(ctx, id, req)
	}

	program, args, err := resolveInvocation(req.Spec)
	if err != nil {
		return &Result{
			ID:     id,
			Spec:   req.Spec,
			Status: Status{Failure: FailureInternalError, Message: err.Error(), Retryable: false},
		}, nil
	}

	workDir, _ := screenWorkingDir(req.Config.WorkingDir)

	cmd := process.Command{
		Program:    program,
		Args:       args,
		Env:        req.Config.Env,
		WorkingDir: workDir,
		Timeout:    req.Config.Timeout,
		Stdin:      stdinFor(req),
	}

	hostname, _ := os.Hostname()
	meta := ExecutionMeta{
		Hostname: hostname,
		PID:      os.Getpid(),
		EnvHash:  hashEnv(req.Config.Env),
		TraceID:  req.Metadata.TraceID,
	}

	out, runErr := e.runner.Run(ctx, cmd)
	if out == nil {
		return e.failFromRunError(id, req.Spec, meta, runErr)
	}

	result := &Result{
		ID:            id,
		Spec:          req.Spec,
		Duration:      out.Duration,
		ExitCode:      out.Status.Code,
		ResourceUsage: Estimate(req.Spec),
		Meta:          meta,
	}
	result.Output = capturedOutput(req.Config.Capture, out.Stdout, out.Stderr)
	postProcess(req.Spec.Kind, req.Config.Capture, &result.Output)

	switch out.Status.Kind {
	case process.ExitSuccess:
		result.Status = Status{Failure: FailureNone}
	case process.ExitTimeout:
		result.Status = Status{Failure: FailureProcessError, Message: "process timed out", Retryable: true}
		return result, nil
	case process.ExitSignal:
		result.Status = Status{Failure: FailureProcessError, Message: "process terminated by signal", Retryable: false}
		return result, nil
	case process.ExitError:
		kind := FailureNonZeroExit
		result.Status = Status{Failure: kind, Message: "command exited with a non-zero status", Retryable: retryableFor(kind)}
	}

	if req.Spec.Kind == Test && req.Config.ExpectedExit != nil && out.Status.Code != *req.Config.ExpectedExit {
		result.Status = Status{Failure: FailureNonZeroExit, Message: "exit code did not match the expected value", Retryable: false}
		return result, nil
	}

	if result.Status.Succeeded() {
		if status, failed := validateOutput(req.Config, result.Output.Stdout); failed {
			result.Status = status
		}
	}

	return result, nil
}

// executeHandler dispatches a Handler-kind request to the in-process
// function registered under req.Spec.Program, never touching
// process.Runner. Post-processing for Handler is pass-through (§4.B), so
// the function's return value becomes the result's captured stdout as-is.
func (e *Executor) executeHandler(ctx context.Context, id string, req Request) (*Result, error) {
	hostname, _ := os.Hostname()
	meta := ExecutionMeta{
		Hostname: hostname,
		PID:      os.Getpid(),
		EnvHash:  hashEnv(req.Config.Env),
		TraceID:  req.Metadata.TraceID,
	}
	result := &Result{ID: id, Spec: req.Spec, ResourceUsage: Estimate(req.Spec), Meta: meta}

	fn, ok := e.handlers.Lookup(req.Spec.Program)
	if !ok {
		result.Status = Status{Failure: FailureProcessError, Message: errUnknownHandler(req.Spec.Program).Error(), Retryable: false}
		return result, nil
	}

	out, err := fn(ctx, req.Spec.HandlerArgs)
	if err != nil {
		result.Status = Status{Failure: FailureNonZeroExit, Message: err.Error(), Retryable: retryableFor(FailureNonZeroExit)}
		result.Output = capturedOutput(req.Config.Capture, []byte(out), nil)
		return result, nil
	}

	result.Status = Status{Failure: FailureNone}
	result.Output = capturedOutput(req.Config.Capture, []byte(out), nil)
	if status, failed := validateOutput(req.Config, result.Output.Stdout); failed {
		result.Status = status
	}
	return result, nil
}

// failFromRunError builds a Result for the case where the process never
// produced output at all (spawn failure).
func (e *Executor) failFromRunError(id string, spec Spec, meta ExecutionMeta, runErr error) (*Result, error) {
	result := &Result{ID: id, Spec: spec, Meta: meta}
	var notFound *pkgerrors.CommandNotFoundError
	switch {
	case errors.As(runErr, &notFound):
		result.Status = Status{Failure: FailureProcessError, Message: runErr.Error(), Retryable: false}
	default:
		result.Status = Status{Failure: FailureInternalError, Message: runErr.Error(), Retryable: false}
	}
	return result, nil
}

// resolveInvocation maps a Spec to the program/args process.Runner actually
// spawns. Claude requests are turned into an invocation of the claude CLI
// with the prompt passed as its -p argument; all other
// kinds run their Program/Args directly.
func resolveInvocation(spec Spec) (string, []string, error) {
	if spec.Kind == Claude {
		return "claude", []string{"-p", spec.Prompt, "--output-format", "stream-json"}, nil
	}
	return spec.Program, spec.Args, nil
}

// stdinFor implements the stdio policy per kind: Claude gets a piped stdin
// the caller may have populated; Shell/Test/Handler get none.
func stdinFor(req Request) []byte {
	if req.Spec.Kind == Claude {
		return req.Stdin
	}
	return nil
}

func capturedOutput(mode CaptureMode, stdout, stderr []byte) ProcessedOutput {
	out := ProcessedOutput{}
	switch mode {
	case CaptureStdout:
		out.Stdout = string(stdout)
	case CaptureStderr:
		out.Stderr = string(stderr)
	case CaptureBoth, CaptureStructured:
		out.Stdout = string(stdout)
		out.Stderr = string(stderr)
	case CaptureNone:
	}
	return out
}

func firstError(issues []Issue) string {
	for _, issue := range issues {
		if issue.Level == IssueSecurityError {
			return issue.Message
		}
	}
	for _, issue := range issues {
		if issue.Level == IssueError {
			return issue.Message
		}
	}
	return "validation failed"
}

// hashEnv produces a stable digest of an env overlay so two results can be
// compared for "ran with the same environment" without logging secrets.
func hashEnv(env []string) string {
	if len(env) == 0 {
		return ""
	}
	sorted := append([]string{}, env...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])
}
