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

// OrphanedWorktree is a worktree whose cleanup failed and that requires
// operator attention.
type OrphanedWorktree struct {
	Path      string    `json:"path"`
	Branch    string    `json:"branch"`
	Reason    string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OrphanedWorktreeStore persists a JSON array of orphan records per job,
// written whenever worktree cleanup fails and deleted once the array is
// empty.
type OrphanedWorktreeStore struct {
	base string
}

// NewOrphanedWorktreeStore builds a store rooted at base.
func NewOrphanedWorktreeStore(base string) *OrphanedWorktreeStore {
	return &OrphanedWorktreeStore{base: base}
}

// Append adds a record to the job's orphan registry.
func (s *OrphanedWorktreeStore) Append(ctx context.Context, repo, jobID string, record OrphanedWorktree) error {
	records, err := s.List(ctx, repo, jobID)
	if err != nil {
		return err
	}
	records = append(records, record)
	path := orphanedWorktreesPath(s.base, repo, jobID)
	if err := writeJSONAtomic(path, records, 0o600); err != nil {
		return err
	}
	recordOperation("orphaned_worktrees", "append")
	return nil
}

// List returns the job's orphan registry, or nil if it has none.
func (s *OrphanedWorktreeStore) List(ctx context.Context, repo, jobID string) ([]OrphanedWorktree, error) {
	var records []OrphanedWorktree
	_, err := readJSON(orphanedWorktreesPath(s.base, repo, jobID), &records)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Remove drops the record for path from the job's registry, deleting the
// registry file entirely once it is empty.
func (s *OrphanedWorktreeStore) Remove(ctx context.Context, repo, jobID, path string) error {
	records, err := s.List(ctx, repo, jobID)
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, r := range records {
		if r.Path != path {
			kept = append(kept, r)
		}
	}

	regPath := orphanedWorktreesPath(s.base, repo, jobID)
	if len(kept) == 0 {
		if err := os.Remove(regPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return writeJSONAtomic(regPath, kept, 0o600)
}

// OrphanedWorktreeRecord pairs a registry entry with the job it was
// recorded under, for callers that list across every job in a repo.
type OrphanedWorktreeRecord struct {
	OrphanedWorktree
	JobID string `json:"job_id"`
}

// ListAll returns every job's orphan registry entries for repo, for the
// CLI's `worktree clean-orphaned` entry point which operates across the
// whole repo rather than one job at a time.
func (s *OrphanedWorktreeStore) ListAll(ctx context.Context, repo string) ([]OrphanedWorktreeRecord, error) {
	dir := filepath.Join(s.base, "orphaned_worktrees", repo)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var all []OrphanedWorktreeRecord
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		jobID := strings.TrimSuffix(entry.Name(), ".json")
		records, err := s.List(ctx, repo, jobID)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			all = append(all, OrphanedWorktreeRecord{OrphanedWorktree: r, JobID: jobID})
		}
	}
	return all, nil
}

// HealthCheck reports whether the orphaned-worktrees directory exists and
// is writable.
func (s *OrphanedWorktreeStore) HealthCheck() error {
	return healthCheck(filepath.Join(s.base, "orphaned_worktrees"))
}
