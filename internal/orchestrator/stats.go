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
	"strings"

	"github.com/cookflow/cook/internal/process"
)

// headHashQuiet returns dir's current HEAD commit hash, or "" if dir isn't a
// git repository yet (no commits, or not a worktree at all) rather than
// erroring, since it's only used to compute a before/after session stat.
func headHashQuiet(ctx context.Context, runner process.Runner, dir string) (string, error) {
	out, err := runner.Run(ctx, process.Command{Program: "git", Args: []string{"rev-parse", "HEAD"}, WorkingDir: dir})
	if err != nil || !out.Status.Success() {
		return "", nil
	}
	return strings.TrimSpace(string(out.Stdout)), nil
}

// changedFileCount counts the files that differ between from and to, for the
// session's files_changed stat.
func changedFileCount(ctx context.Context, runner process.Runner, dir, from, to string) (int, error) {
	out, err := runner.Run(ctx, process.Command{Program: "git", Args: []string{"diff", "--name-only", from, to}, WorkingDir: dir})
	if err != nil || !out.Status.Success() {
		return 0, nil
	}
	trimmed := strings.TrimSpace(string(out.Stdout))
	if trimmed == "" {
		return 0, nil
	}
	return len(strings.Split(trimmed, "\n")), nil
}
