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

// Package config resolves the small set of environment variables that
// steer run behavior outside of the workflow document itself.
package config

import (
	"os"
	"path/filepath"
)

// Config is the environment-derived run configuration.
type Config struct {
	// AutoMerge merges the top-level worktree's branch back to the project
	// branch during teardown when the run succeeded, without prompting.
	AutoMerge bool

	// AutoCleanup destroys the top-level worktree during teardown, whether
	// or not the run succeeded or was merged, instead of leaving it for
	// later inspection.
	AutoCleanup bool

	// TestMode skips the preflight checks (git working tree, `claude` on
	// PATH); worktrees and commits are still made as usual.
	TestMode bool

	// StorageDir is the base directory for sessions, events,
	// checkpoints, the DLQ, and the orphaned-worktree registry. Defaults
	// to ~/.cook.
	StorageDir string
}

// FromEnv builds a Config from AUTO_MERGE, AUTO_CLEANUP, TEST_MODE, and
// STORAGE_DIR.
func FromEnv() *Config {
	cfg := &Config{
		AutoMerge:   boolEnv("AUTO_MERGE"),
		AutoCleanup: boolEnv("AUTO_CLEANUP"),
		TestMode:    boolEnv("TEST_MODE"),
		StorageDir:  os.Getenv("STORAGE_DIR"),
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = defaultStorageDir()
	}
	return cfg
}

func boolEnv(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cook"
	}
	return filepath.Join(home, ".cook")
}
