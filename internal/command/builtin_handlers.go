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
	"fmt"
	"os"
	"path/filepath"
)

// NewBuiltinHandlers builds a HandlerRegistry carrying the handlers every
// `cook` installation provides out of the box, grounded on the kind of
// small, dependency-free in-process steps a workflow author reaches for
// instead of shelling out: writing a file the map/reduce phase produced,
// and a no-op used as an on_exit_code/on_failure placeholder.
func NewBuiltinHandlers() *HandlerRegistry {
	reg := NewHandlerRegistry()
	reg.Register("noop", handleNoop)
	reg.Register("write_file", handleWriteFile)
	return reg
}

// handleNoop does nothing and always succeeds; useful as an on_exit_code
// follow-up step that only needs to exist, not act.
func handleNoop(_ context.Context, _ map[string]any) (string, error) {
	return "", nil
}

// handleWriteFile writes args["content"] to args["path"], creating parent
// directories as needed. Both args are required strings.
func handleWriteFile(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("write_file requires a non-empty %q arg", "path")
	}
	content, _ := args["content"].(string)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directory for %q: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %q: %w", path, err)
	}
	return path, nil
}
