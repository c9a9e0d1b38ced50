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
	"context"
	"strings"
	"testing"

	"github.com/cookflow/cook/internal/process"
	"github.com/cookflow/cook/internal/storage"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner is a scripted process.Runner for exercising git call sites
// without a real repository.
type fakeRunner struct {
	onRun func(cmd process.Command) (*process.Output, error)
}

func (f *fakeRunner) Run(ctx context.Context, cmd process.Command) (*process.Output, error) {
	return f.onRun(cmd)
}

func (f *fakeRunner) RunStreaming(ctx context.Context, cmd process.Command) (*process.Stream, error) {
	return nil, nil
}

func success(stdout string) *process.Output {
	return &process.Output{Status: process.ExitStatus{Kind: process.ExitSuccess}, Stdout: []byte(stdout)}
}

func TestCreateSession_RunsWorktreeAdd(t *testing.T) {
	var gotArgs []string
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		gotArgs = cmd.Args
		return success(""), nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	m := NewManager("/repo", runner, store, "acme", "job-1")
	handle, err := m.CreateSession(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", handle.Name)
	assert.Equal(t, []string{"worktree", "add", "-b", "agent-1", "/repo-worktrees/agent-1"}, gotArgs)
}

func TestMergeSession_DetectsConflict(t *testing.T) {
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == "worktree" {
			return success(""), nil
		}
		return &process.Output{
			Status: process.ExitStatus{Kind: process.ExitError, Code: 1},
			Stdout: []byte("Auto-merging file.go\nCONFLICT (content): Merge conflict in file.go\n"),
		}, nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	m := NewManager("/repo", runner, store, "acme", "job-1")
	_, err = m.CreateSession(context.Background(), "agent-1")
	require.NoError(t, err)

	err = m.MergeSession(context.Background(), "agent-1")
	require.Error(t, err)
	var conflictErr *pkgerrors.MergeConflictError
	require.True(t, pkgerrors.As(err, &conflictErr))
	assert.Contains(t, conflictErr.Files, "file.go")
}

func TestDestroy_FallsBackToRemovalOnFailure(t *testing.T) {
	calls := 0
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		calls++
		if len(cmd.Args) > 0 && cmd.Args[0] == "worktree" && cmd.Args[1] == "add" {
			return success(""), nil
		}
		return &process.Output{Status: process.ExitStatus{Kind: process.ExitError, Code: 1}, Stderr: []byte("fatal: locked")}, nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	m := NewManager(t.TempDir(), runner, store, "acme", "job-1")
	handle, err := m.CreateSession(context.Background(), "agent-1")
	require.NoError(t, err)

	err = m.Destroy(context.Background(), handle, false)
	require.NoError(t, err)
}

func TestParseWorktreeList(t *testing.T) {
	output := strings.Join([]string{
		"worktree /repo",
		"HEAD abc123",
		"branch refs/heads/main",
		"",
		"worktree /repo-worktrees/agent-1",
		"HEAD def456",
		"branch refs/heads/agent-1",
		"",
	}, "\n")

	entries := parseWorktreeList(output)
	require.Len(t, entries, 2)
	assert.Equal(t, "/repo-worktrees/agent-1", entries[1].Path)
	assert.Equal(t, "agent-1", entries[1].Branch)
}
