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

//go:build !unix

package process

import (
	"context"
	"os/exec"
	"time"
)

// configureCommand applies working directory and environment overlay. There
// is no process-group primitive on this platform, so timeout termination
// falls back to killing the single process.
func configureCommand(cmd *exec.Cmd, command Command) {
	if command.WorkingDir != "" {
		cmd.Dir = command.WorkingDir
	}
	if len(command.Env) > 0 {
		cmd.Env = command.Env
	}
}

// waitWithTimeout waits for the command to exit, killing it directly on
// context cancellation since process groups are unavailable.
func waitWithTimeout(ctx context.Context, cmd *exec.Cmd, _ time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return context.DeadlineExceeded
	}
}

// signalFromExitError is never meaningful on this platform.
func signalFromExitError(exitErr *exec.ExitError) (int, bool) {
	return 0, false
}
