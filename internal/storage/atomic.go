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

// Package storage persists sessions, events, checkpoints, dead-letter
// items, and orphaned-worktree records to a per-user base directory
// partitioned by repository and job id, and provides the distributed lock
// facility that serializes access to them.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// writeAtomic writes data to path by writing a temp file in the same
// directory, fsyncing it, then renaming over the target. A rename within
// the same directory is atomic on every platform this runs on, so readers
// never observe a partially written file.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return pkgerrors.Wrapf(err, "creating directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return pkgerrors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return pkgerrors.Wrapf(err, "writing temp file %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return pkgerrors.Wrapf(err, "fsyncing temp file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "closing temp file %s", tmpPath)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return pkgerrors.Wrapf(err, "chmod temp file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return pkgerrors.Wrapf(err, "renaming %s to %s", tmpPath, path)
	}
	return nil
}

// writeJSONAtomicExclusive marshals v and creates path only if it does not
// already exist, using O_EXCL so two racing lock acquisitions can't both
// believe they won: the loser gets a plain file-exists error instead of
// silently overwriting the winner's lock.
func writeJSONAtomicExclusive(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &pkgerrors.SerializationError{Resource: path, Cause: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return pkgerrors.Wrapf(err, "creating directory %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// writeJSONAtomic marshals v and writes it atomically to path.
func writeJSONAtomic(path string, v interface{}, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &pkgerrors.SerializationError{Resource: path, Cause: err}
	}
	return writeAtomic(path, data, perm)
}

// readJSON reads and unmarshals path into v. It returns (false, nil) if the
// file does not exist.
func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, pkgerrors.Wrapf(err, "reading %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, &pkgerrors.SerializationError{Resource: path, Cause: err}
	}
	return true, nil
}

// healthCheck reports whether dir exists (creating it if not) and is
// writable, for a store's health_check().
func healthCheck(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &pkgerrors.UnavailableError{Resource: dir, Cause: err}
	}
	probe := filepath.Join(dir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return &pkgerrors.UnavailableError{Resource: dir, Cause: err}
	}
	return os.Remove(probe)
}

func sessionPath(base, repo, sessionID string) string {
	return filepath.Join(base, "sessions", repo, sessionID+".json")
}

func eventsDir(base, repo, jobID string) string {
	return filepath.Join(base, "events", repo, jobID)
}

func checkpointDir(base, repo, jobID string) string {
	return filepath.Join(base, "state", repo, jobID)
}

func dlqDir(base, repo, jobID string) string {
	return filepath.Join(base, "dlq", repo, jobID, "items")
}

func orphanedWorktreesPath(base, repo, jobID string) string {
	return filepath.Join(base, "orphaned_worktrees", repo, jobID+".json")
}

func lockPath(base, key string) string {
	return filepath.Join(base, "locks", fmt.Sprintf("%x.lock", key))
}
