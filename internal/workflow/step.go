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
	"strings"
	"time"

	"github.com/cookflow/cook/internal/command"
)

// Kind reports which of the step's one-of variants is populated.
func (s *Step) Kind() command.Kind {
	switch {
	case s.Claude != "":
		return command.Claude
	case s.Test != "":
		return command.Test
	case s.Handler != nil:
		return command.Handler
	default:
		return command.Shell
	}
}

// displayName derives the name captured output is stored under when
// capture_output is left at its default: "shell_N" for shell steps (N is
// the step's 1-based position), or the Claude command with its leading
// slash stripped.
func (s *Step) displayName(position int) string {
	if s.Claude != "" {
		return strings.TrimPrefix(strings.Fields(s.Claude)[0], "/")
	}
	return "shell_" + itoa(position)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// toRequest translates a Step into a command.Request, expanding every
// textual argument against scope.
func (s *Step) toRequest(scope *Scope, workDir string) command.Request {
	cfg := command.ExecConfig{
		Capture:    command.CaptureBoth,
		WorkingDir: workDir,
	}
	if s.WorkingDir != "" {
		cfg.WorkingDir = scope.Expand(s.WorkingDir)
	}
	if s.Timeout > 0 {
		cfg.Timeout = time.Duration(s.Timeout) * time.Second
	}
	for k, v := range s.Env {
		cfg.Env = append(cfg.Env, k+"="+scope.Expand(v))
	}

	switch s.Kind() {
	case command.Claude:
		return command.Request{
			Spec:   command.Spec{Kind: command.Claude, Prompt: scope.Expand(s.Claude)},
			Config: cfg,
		}
	case command.Test:
		program, args := splitCommandLine(scope.Expand(s.Test))
		return command.Request{
			Spec:   command.Spec{Kind: command.Test, Program: program, Args: args},
			Config: cfg,
		}
	case command.Handler:
		return command.Request{
			Spec:   command.Spec{Kind: command.Handler, Program: s.Handler.Name, HandlerArgs: expandHandlerArgs(s.Handler.Args, scope)},
			Config: cfg,
		}
	default:
		program, args := splitCommandLine(scope.Expand(s.Shell))
		return command.Request{
			Spec:   command.Spec{Kind: command.Shell, Program: program, Args: args},
			Config: cfg,
		}
	}
}

// expandHandlerArgs expands ${...}/$... references in every string-valued
// arg a handler step declares; non-string values (numbers, bools, nested
// maps/lists) pass through unchanged.
func expandHandlerArgs(args map[string]any, scope *Scope) map[string]any {
	if args == nil {
		return nil
	}
	expanded := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			expanded[k] = scope.Expand(s)
		} else {
			expanded[k] = v
		}
	}
	return expanded
}

// splitCommandLine does no argv splitting: the whole line is handed to
// `sh -c`, so the shell applies its own quoting semantics.
func splitCommandLine(line string) (string, []string) {
	return "sh", []string{"-c", line}
}
