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

// Package worktree allocates per-agent isolation by giving each agent its
// own git worktree on a fresh branch, and reconciles what's actually on
// disk against the registry at startup so orphans get surfaced instead of
// silently leaking.
package worktree

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cookflow/cook/internal/process"
	"github.com/cookflow/cook/internal/storage"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
	"github.com/google/uuid"
)

// Handle is an allocated worktree: a directory checked out on its own
// branch, ready for an agent to run in.
type Handle struct {
	Name       string
	Branch     string
	Path       string
	ProjectDir string
}

// Manager creates, merges, and destroys worktrees of a single project
// repository, backed by the process runner for every git invocation and
// the storage layer for the orphan registry. The active registry is an
// in-memory map held by the Manager only.
type Manager struct {
	projectDir string
	runner     process.Runner
	store      *storage.Store
	repo       string
	jobID      string

	active map[string]*Handle
}

// NewManager builds a Manager over projectDir (the host repository's
// working copy), running git through runner and recording orphans in
// store under repo/jobID.
func NewManager(projectDir string, runner process.Runner, store *storage.Store, repo, jobID string) *Manager {
	return &Manager{
		projectDir: projectDir,
		runner:     runner,
		store:      store,
		repo:       repo,
		jobID:      jobID,
		active:     make(map[string]*Handle),
	}
}

// CreateSession allocates a fresh worktree on a new branch named
// agent-<short-uuid> (or the caller-supplied name) under projectDir/..,
// running `git worktree add -b <branch> <path>`.
func (m *Manager) CreateSession(ctx context.Context, name string) (*Handle, error) {
	if name == "" {
		name = "agent-" + uuid.NewString()[:8]
	}
	branch := name
	path := fmt.Sprintf("%s-worktrees/%s", strings.TrimRight(m.projectDir, "/"), name)

	if err := m.runGit(ctx, m.projectDir, "worktree", "add", "-b", branch, path); err != nil {
		return nil, err
	}

	handle := &Handle{Name: name, Branch: branch, Path: path, ProjectDir: m.projectDir}
	m.active[name] = handle
	return handle, nil
}

// MergeSession merges the worktree's branch back into the project repo's
// current branch. A merge conflict is reported structurally rather than as
// a generic process error, and on success the caller decides whether to
// invoke Destroy per its auto_cleanup policy.
func (m *Manager) MergeSession(ctx context.Context, name string) error {
	handle, ok := m.active[name]
	if !ok {
		return &pkgerrors.NotFoundError{Resource: "worktree session", ID: name}
	}

	out, err := m.runner.Run(ctx, process.Command{
		Program:    "git",
		Args:       []string{"merge", handle.Branch},
		WorkingDir: m.projectDir,
	})
	if err != nil {
		return &pkgerrors.GitError{Args: []string{"merge", handle.Branch}, Cause: err}
	}
	if !out.Status.Success() {
		if strings.Contains(string(out.Stderr), "CONFLICT") || strings.Contains(string(out.Stdout), "CONFLICT") {
			return &pkgerrors.MergeConflictError{Branch: handle.Branch, Files: parseConflictFiles(string(out.Stdout))}
		}
		return &pkgerrors.GitError{Args: []string{"merge", handle.Branch}, Stderr: string(out.Stderr)}
	}
	return nil
}

// Destroy removes a worktree. It first tries `git worktree remove [--force]`
// on the host repo; on failure it falls back to deleting the directory
// directly and running `git worktree prune`. A failure at every stage is
// recorded in the orphan registry instead of returned bare, so the CLI's
// clean-orphaned entry point can retry later.
func (m *Manager) Destroy(ctx context.Context, handle *Handle, force bool) error {
	args := []string{"worktree", "remove", handle.Path}
	if force {
		args = append(args, "--force")
	}

	if err := m.runGit(ctx, m.projectDir, args...); err == nil {
		delete(m.active, handle.Name)
		return nil
	}

	if err := os.RemoveAll(handle.Path); err != nil {
		_ = m.store.Orphaned.Append(ctx, m.repo, m.jobID, storage.OrphanedWorktree{
			Path:       handle.Path,
			Branch:     handle.Branch,
			Reason:     err.Error(),
			RecordedAt: time.Now().UTC(),
		})
		return &pkgerrors.RemovalFailedError{Path: handle.Path, Cause: err}
	}
	_ = m.runGit(ctx, m.projectDir, "worktree", "prune")
	delete(m.active, handle.Name)
	return nil
}

// ListActive returns every worktree this Manager currently has registered.
func (m *Manager) ListActive() []*Handle {
	handles := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		handles = append(handles, h)
	}
	return handles
}

// ListOrphaned returns worktrees on disk (per `git worktree list`) that
// have no registry entry and whose directory mtime is older than
// staleThreshold.
func (m *Manager) ListOrphaned(ctx context.Context, staleThreshold time.Duration) ([]*Handle, error) {
	out, err := m.runner.Run(ctx, process.Command{
		Program:    "git",
		Args:       []string{"worktree", "list", "--porcelain"},
		WorkingDir: m.projectDir,
	})
	if err != nil || !out.Status.Success() {
		return nil, &pkgerrors.GitError{Args: []string{"worktree", "list"}, Cause: err}
	}

	var orphans []*Handle
	for _, entry := range parseWorktreeList(string(out.Stdout)) {
		if entry.Path == m.projectDir {
			continue
		}
		if _, registered := m.active[entry.Name()]; registered {
			continue
		}
		info, statErr := os.Stat(entry.Path)
		if statErr != nil {
			continue
		}
		if time.Since(info.ModTime()) < staleThreshold {
			continue
		}
		orphans = append(orphans, &Handle{Name: entry.Name(), Branch: entry.Branch, Path: entry.Path, ProjectDir: m.projectDir})
	}
	return orphans, nil
}

func (m *Manager) runGit(ctx context.Context, dir string, args ...string) error {
	out, err := m.runner.Run(ctx, process.Command{Program: "git", Args: args, WorkingDir: dir})
	if err != nil {
		return &pkgerrors.GitError{Args: args, Cause: err}
	}
	if !out.Status.Success() {
		return &pkgerrors.GitError{Args: args, Stderr: string(out.Stderr)}
	}
	return nil
}
