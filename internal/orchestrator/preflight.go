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

package orchestrator

import (
	"context"
	"os/exec"

	"github.com/cookflow/cook/internal/process"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// checkPrerequisites verifies workDir is a git working tree and that the
// `claude` binary is resolvable on PATH, skipping both checks in test mode.
func checkPrerequisites(ctx context.Context, runner process.Runner, workDir string, testMode bool) error {
	if testMode {
		return nil
	}

	out, err := runner.Run(ctx, process.Command{
		Program:    "git",
		Args:       []string{"rev-parse", "--is-inside-work-tree"},
		WorkingDir: workDir,
	})
	if err != nil || !out.Status.Success() {
		return &pkgerrors.ValidationFailedError{Issues: []string{workDir + " is not a git working tree"}}
	}

	if _, err := exec.LookPath("claude"); err != nil {
		return &pkgerrors.CommandNotFoundError{Program: "claude"}
	}
	return nil
}
