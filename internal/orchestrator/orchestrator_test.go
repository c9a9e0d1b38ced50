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

package orchestrator

import (
	"context"
	"testing"

	"github.com/cookflow/cook/internal/process"
	"github.com/cookflow/cook/internal/storage"
	"github.com/cookflow/cook/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestRun_TestModeSkipsPreflightAndRunsSequentialDocument(t *testing.T) {
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		return success("ok\n"), nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	o := NewOrchestrator(runner, store, nil)
	doc := &workflow.Document{
		MaxIterations: 1,
		Commands:      []workflow.Step{{Shell: "echo hello"}},
	}

	result := o.Run(context.Background(), doc, Options{
		Repo:       "acme",
		ProjectDir: "/repo",
		TestMode:   true,
	})

	require.NoError(t, result.Err)
	assert.Equal(t, "Completed", result.Session.Status)
}

func TestRun_PreflightFailsWhenNotAGitWorkTree(t *testing.T) {
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		return &process.Output{Status: process.ExitStatus{Kind: process.ExitError, Code: 128}}, nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	o := NewOrchestrator(runner, store, nil)
	doc := &workflow.Document{MaxIterations: 1, Commands: []workflow.Step{{Shell: "echo hi"}}}

	result := o.Run(context.Background(), doc, Options{
		Repo:       "acme",
		ProjectDir: "/repo",
	})

	require.Error(t, result.Err)
}

func TestRun_FailedStepMarksSessionFailed(t *testing.T) {
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		return &process.Output{Status: process.ExitStatus{Kind: process.ExitError, Code: 1}}, nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	o := NewOrchestrator(runner, store, nil)
	doc := &workflow.Document{MaxIterations: 1, Commands: []workflow.Step{{Shell: "exit 1"}}}

	result := o.Run(context.Background(), doc, Options{
		Repo:       "acme",
		ProjectDir: "/repo",
		TestMode:   true,
	})

	require.Error(t, result.Err)
	assert.Equal(t, "Failed", result.Session.Status)
}
