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

// Package process runs child processes with PATH resolution, timeout-bound
// process-group termination, and either buffered or streaming stdio capture.
package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// GraceTime is how long a timed-out or cancelled process is given to exit
// after SIGTERM before it is sent SIGKILL.
const GraceTime = 5 * time.Second

// Command describes a process to spawn.
type Command struct {
	Program    string
	Args       []string
	Env        []string // overlay; empty means inherit the parent environment
	WorkingDir string
	Timeout    time.Duration // zero means no timeout
	Stdin      []byte
}

// ExitKind classifies how a process finished.
type ExitKind int

const (
	// ExitSuccess means the process exited with status 0.
	ExitSuccess ExitKind = iota
	// ExitError means the process exited with a non-zero status.
	ExitError
	// ExitSignal means the process was terminated by a signal.
	ExitSignal
	// ExitTimeout means the process was killed after exceeding its timeout.
	ExitTimeout
)

// ExitStatus is the normalized outcome of a completed process.
type ExitStatus struct {
	Kind   ExitKind
	Code   int // valid when Kind is ExitSuccess or ExitError
	Signal int // valid when Kind is ExitSignal
}

// Success reports whether the process exited with status 0.
func (s ExitStatus) Success() bool { return s.Kind == ExitSuccess }

// Output is the result of a completed (non-streaming) Run.
type Output struct {
	Status   ExitStatus
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner spawns processes. The default implementation is OSRunner; tests can
// substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
	RunStreaming(ctx context.Context, cmd Command) (*Stream, error)
}

// OSRunner runs real child processes via os/exec.
type OSRunner struct{}

// NewOSRunner creates a Runner backed by the operating system.
func NewOSRunner() *OSRunner { return &OSRunner{} }

// Run spawns the command, waits for completion (racing the configured
// timeout if any), and returns its captured output.
func (r *OSRunner) Run(ctx context.Context, command Command) (*Output, error) {
	start := time.Now()
	recordProcessStart(command.Program)

	runCtx := ctx
	var cancel context.CancelFunc
	if command.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	cmd := exec.Command(command.Program, command.Args...)
	configureCommand(cmd, command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(command.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(command.Stdin)
	}

	err := cmd.Start()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &pkgerrors.CommandNotFoundError{Program: command.Program}
		}
		return nil, pkgerrors.Wrapf(err, "spawning %s", command.Program)
	}

	waitErr := waitWithTimeout(runCtx, cmd, command.Timeout)
	duration := time.Since(start)

	if errors.Is(waitErr, context.DeadlineExceeded) {
		recordProcessTimeout(command.Program)
		recordProcessDuration(command.Program, ExitTimeout, duration.Seconds())
		return &Output{
			Status:   ExitStatus{Kind: ExitTimeout},
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Duration: duration,
		}, &pkgerrors.ProcessTimeoutError{Program: command.Program, Duration: command.Timeout}
	}

	status := statusFromWaitError(waitErr)
	recordProcessDuration(command.Program, status.Kind, duration.Seconds())
	return &Output{
		Status:   status,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}, nil
}

// statusFromWaitError classifies the error returned by cmd.Wait (or nil) into
// a normalized ExitStatus.
func statusFromWaitError(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Kind: ExitSuccess}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if sig, ok := signalFromExitError(exitErr); ok {
			return ExitStatus{Kind: ExitSignal, Signal: sig}
		}
		return ExitStatus{Kind: ExitError, Code: exitErr.ExitCode()}
	}
	return ExitStatus{Kind: ExitError, Code: -1}
}
