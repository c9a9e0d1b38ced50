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

package workflow

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cookflow/cook/internal/process"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// headHash returns the current HEAD commit hash in dir.
func headHash(ctx context.Context, runner process.Runner, dir string) (string, error) {
	out, err := runner.Run(ctx, process.Command{Program: "git", Args: []string{"rev-parse", "HEAD"}, WorkingDir: dir})
	if err != nil {
		return "", &pkgerrors.GitError{Args: []string{"rev-parse", "HEAD"}, Cause: err}
	}
	if !out.Status.Success() {
		return "", &pkgerrors.GitError{Args: []string{"rev-parse", "HEAD"}, Stderr: string(out.Stderr)}
	}
	return strings.TrimSpace(string(out.Stdout)), nil
}

// lastCommitFiles returns the files changed in HEAD~1..HEAD in dir. It
// returns an error if there is no prior commit to diff against.
func lastCommitFiles(ctx context.Context, runner process.Runner, dir string) ([]string, error) {
	out, err := runner.Run(ctx, process.Command{Program: "git", Args: []string{"diff", "--name-only", "HEAD~1", "HEAD"}, WorkingDir: dir})
	if err != nil {
		return nil, &pkgerrors.GitError{Args: []string{"diff", "--name-only", "HEAD~1", "HEAD"}, Cause: err}
	}
	if !out.Status.Success() {
		return nil, &pkgerrors.GitError{Args: []string{"diff", "--name-only", "HEAD~1", "HEAD"}, Stderr: string(out.Stderr)}
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out.Stdout)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// matchOutputPattern finds the first file among files matching pattern as a
// doublestar glob, falling back to a plain substring match for patterns with
// no glob metacharacters (a bare filename naming one of the changed files).
func matchOutputPattern(files []string, pattern string) (string, bool) {
	for _, f := range files {
		if ok, _ := doublestar.Match(pattern, f); ok {
			return f, true
		}
	}
	for _, f := range files {
		if strings.Contains(f, pattern) {
			return f, true
		}
	}
	return "", false
}
