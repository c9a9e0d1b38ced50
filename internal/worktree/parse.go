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

package worktree

import (
	"path/filepath"
	"strings"
)

// worktreeEntry is one record from `git worktree list --porcelain`.
type worktreeEntry struct {
	Path   string
	Branch string
}

// Name derives the worktree's session name from its path, since that's
// what CreateSession used to name both the branch and the directory.
func (e worktreeEntry) Name() string {
	return filepath.Base(e.Path)
}

// parseWorktreeList parses the porcelain output of `git worktree list`,
// whose records are blank-line-separated blocks of "key value" lines.
func parseWorktreeList(output string) []worktreeEntry {
	var entries []worktreeEntry
	var current worktreeEntry

	flush := func() {
		if current.Path != "" {
			entries = append(entries, current)
		}
		current = worktreeEntry{}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return entries
}

// parseConflictFiles extracts the paths listed in `git merge`'s
// "CONFLICT (content): Merge conflict in <path>" lines.
func parseConflictFiles(output string) []string {
	var files []string
	for _, line := range strings.Split(output, "\n") {
		const marker = "Merge conflict in "
		if idx := strings.Index(line, marker); idx >= 0 {
			files = append(files, strings.TrimSpace(line[idx+len(marker):]))
		}
	}
	return files
}
