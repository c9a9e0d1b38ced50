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

//go:build unix

package process

import (
	"context"
	"os/exec"
	"syscall"
	"time"
)

// configureCommand places the child in its own process group so a timeout
// can terminate it along with any descendants it spawned.
func configureCommand(cmd *exec.Cmd, command Command) {
	if command.WorkingDir != "" {
		cmd.Dir = command.WorkingDir
	}
	if len(command.Env) > 0 {
		cmd.Env = command.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// waitWithTimeout waits for the command to exit. If the context is cancelled
// or times out first, it sends SIGTERM to the process group, waits up to
// GraceTime, then sends SIGKILL.
func waitWithTimeout(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		pgid, pgErr := syscall.Getpgid(cmd.Process.Pid)
		if pgErr == nil {
			_ = syscall.Kill(-pgid, syscall.SIGTERM)
		} else {
			_ = cmd.Process.Kill()
		}

		select {
		case <-done:
			return context.DeadlineExceeded
		case <-time.After(GraceTime):
			if pgErr == nil {
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			} else {
				_ = cmd.Process.Kill()
			}
			<-done
			return context.DeadlineExceeded
		}
	}
}

// signalFromExitError extracts the terminating signal number, if the process
// was killed by one, from a completed exec.ExitError.
func signalFromExitError(exitErr *exec.ExitError) (int, bool) {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return 0, false
	}
	return int(status.Signal()), true
}
