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

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Session status values, per spec.md's closed status taxonomy
// (InProgress | Completed | Failed | Interrupted).
const (
	StatusInProgress  = "InProgress"
	StatusCompleted   = "Completed"
	StatusFailed      = "Failed"
	StatusInterrupted = "Interrupted"
)

// Session is a single agent's worktree-backed unit of work.
type Session struct {
	ID                  string         `json:"id"`
	Repo                string         `json:"repo"`
	JobID               string         `json:"job_id"`
	WorkflowPath        string         `json:"workflow_path,omitempty"`
	WorktreeDir         string         `json:"worktree_dir"`
	Branch              string         `json:"branch"`
	Status              string         `json:"status"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	EndedAt             time.Time      `json:"ended_at,omitempty"`
	IterationsCompleted int            `json:"iterations_completed,omitempty"`
	FilesChanged        int            `json:"files_changed,omitempty"`
	IterationTimings    []time.Duration `json:"iteration_timings,omitempty"`
	CommandTimings      map[string]time.Duration `json:"command_timings,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// SessionStore persists Sessions, one file per session, under a per-session
// lock so concurrent writers see last-writer-wins inside the critical
// section rather than a torn file.
type SessionStore struct {
	base  string
	locks *LockManager
}

// NewSessionStore builds a SessionStore rooted at base.
func NewSessionStore(base string, locks *LockManager) *SessionStore {
	return &SessionStore{base: base, locks: locks}
}

// Save writes session atomically while holding a lock on its own key.
func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	guard, err := s.locks.AcquireWithRetry(ctx, sessionLockKey(session.Repo, session.ID), "sessions", 10*time.Second, 5, 100*time.Millisecond)
	if err != nil {
		recordConflict("sessions")
		return err
	}
	defer guard.Release(ctx)

	session.UpdatedAt = time.Now().UTC()
	path := sessionPath(s.base, session.Repo, session.ID)
	if err := writeJSONAtomic(path, session, 0o600); err != nil {
		return err
	}
	recordOperation("sessions", "save")
	return nil
}

// Load reads a session by repo and id. It returns (nil, nil) if absent.
func (s *SessionStore) Load(ctx context.Context, repo, sessionID string) (*Session, error) {
	var session Session
	found, err := readJSON(sessionPath(s.base, repo, sessionID), &session)
	if err != nil || !found {
		return nil, err
	}
	recordOperation("sessions", "load")
	return &session, nil
}

// List returns every session recorded for repo.
func (s *SessionStore) List(ctx context.Context, repo string) ([]*Session, error) {
	dir := filepath.Join(s.base, "sessions", repo)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		session, err := s.Load(ctx, repo, id)
		if err != nil || session == nil {
			continue
		}
		sessions = append(sessions, session)
	}
	recordOperation("sessions", "list")
	return sessions, nil
}

// HealthCheck reports whether the sessions directory exists and is writable.
func (s *SessionStore) HealthCheck() error {
	return healthCheck(filepath.Join(s.base, "sessions"))
}

func sessionLockKey(repo, sessionID string) string {
	return "session:" + repo + ":" + sessionID
}
