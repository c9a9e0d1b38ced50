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
	"fmt"
	"path/filepath"
	"strings"
)

// injectionMetachars are the shell metacharacters screened out of arguments
// for kinds that are not supposed to hit a shell at all. Narrowed from a
// teacher that screened a much broader metachar set for every kind: Shell
// requests are excluded (they own their own quoting) and the Claude kind
// gets an explicit per-metachar allowlist below, since prompts routinely
// contain "$" in normal prose and fenced code.
var injectionMetachars = []string{"$(", "`", "$"}

// claudeAllowedMetachars lists metacharacters the Claude kind is permitted
// to carry in its prompt text; "$(" and a bare "`" are still rejected since
// those are the patterns a shell would actually expand.
var claudeAllowedMetachars = map[string]bool{
	"$": true,
}

// deniedPrograms are programs rejected outright for Claude/Test
// requests; for Shell and Handler kinds a match only produces a warning
// since those kinds are expected to run arbitrary project tooling.
var deniedPrograms = map[string]bool{
	"rm":       true,
	"dd":       true,
	"mkfs":     true,
	"shutdown": true,
	"reboot":   true,
}

// screenInjection rejects arguments containing shell-expansion
// metacharacters for non-shell kinds; Shell requests are exempt since they
// are expected to carry their own shell syntax.
func screenInjection(kind Kind, args []string, prompt string) error {
	if kind == Shell {
		return nil
	}
	fields := args
	if kind == Claude {
		fields = append(append([]string{}, args...), prompt)
	}
	for _, arg := range fields {
		for _, mc := range injectionMetachars {
			if !strings.Contains(arg, mc) {
				continue
			}
			if kind == Claude && mc == "$" && claudeAllowedMetachars[mc] && !strings.Contains(arg, "$(") {
				continue
			}
			return fmt.Errorf("argument contains disallowed sequence %q", mc)
		}
	}
	return nil
}

// screenWorkingDir canonicalizes dir and rejects any path that escapes its
// own resolved form via "..".
func screenWorkingDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	clean := filepath.Clean(dir)
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("working directory contains ancestor reference: %s", dir)
	}
	return abs, nil
}

// screenDeniedProgram rejects (Claude/Test) or warns (Shell/Handler) when
// the program is on the fixed denylist.
func screenDeniedProgram(kind Kind, program string) (warning string, err error) {
	base := filepath.Base(program)
	if !deniedPrograms[base] {
		return "", nil
	}
	switch kind {
	case Shell, Handler:
		return fmt.Sprintf("command %q is on the denylist; proceeding for kind %s", base, kind), nil
	default:
		return "", fmt.Errorf("command %q is denied for kind %s", base, kind)
	}
}
