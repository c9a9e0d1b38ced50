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
	"context"
	"strings"
	"testing"

	"github.com/cookflow/cook/internal/command"
	"github.com/cookflow/cook/internal/process"
	"github.com/cookflow/cook/internal/storage"
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

func shellLine(cmd process.Command) string {
	if len(cmd.Args) < 2 {
		return ""
	}
	return cmd.Args[1]
}

func TestRunSequential_ExecutesStepsAndAdvancesIterations(t *testing.T) {
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		return success("hello from step\n"), nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	engine := NewEngine(command.NewExecutor(runner), runner, store, "acme", "job-1")
	doc := &Document{
		MaxIterations: 1,
		Commands: []Step{
			{Shell: "echo hello"},
		},
	}

	err = engine.Run(context.Background(), doc, "/repo")
	require.NoError(t, err)

	cp, err := store.Checkpoints.Latest(context.Background(), "acme", "job-1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.Iteration)
	assert.Equal(t, 1, cp.StepIndex)

	events, err := store.Events.Tail(context.Background(), "acme", "job-1")
	require.NoError(t, err)
	var sawSuccess bool
	for _, e := range events {
		if e.Type == "step_end" && e.Data["status"] == "success" {
			sawSuccess = true
		}
	}
	assert.True(t, sawSuccess)
}

func TestRunSequential_OnFailureRetryEmitsStepStartPerAttempt(t *testing.T) {
	calls := 0
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		calls++
		if calls < 3 {
			return &process.Output{Status: process.ExitStatus{Kind: process.ExitError, Code: 1}}, nil
		}
		return success("ok\n"), nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	engine := NewEngine(command.NewExecutor(runner), runner, store, "acme", "job-retry")
	doc := &Document{
		MaxIterations: 1,
		Commands: []Step{
			{Test: "flaky", OnFailure: &OnFailure{MaxAttempts: 3}},
		},
	}

	err = engine.Run(context.Background(), doc, "/repo")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	events, err := store.Events.Tail(context.Background(), "acme", "job-retry")
	require.NoError(t, err)
	var starts int
	for _, e := range events {
		if e.Type == "step_start" {
			starts++
		}
	}
	assert.Equal(t, 3, starts)
}

func TestRunSequential_FailFastAbortsOnNonZeroExit(t *testing.T) {
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		return &process.Output{Status: process.ExitStatus{Kind: process.ExitError, Code: 1}}, nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	engine := NewEngine(command.NewExecutor(runner), runner, store, "acme", "job-2")
	doc := &Document{
		MaxIterations: 1,
		Commands: []Step{
			{Shell: "exit 1"},
			{Shell: "echo should not run"},
		},
	}

	err = engine.Run(context.Background(), doc, "/repo")
	require.Error(t, err)
}

func TestRunSequential_OnExitCodeOverridesFailure(t *testing.T) {
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		line := shellLine(cmd)
		if strings.Contains(line, "recover") {
			return success("recovered\n"), nil
		}
		return &process.Output{Status: process.ExitStatus{Kind: process.ExitError, Code: 2}}, nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	engine := NewEngine(command.NewExecutor(runner), runner, store, "acme", "job-3")
	doc := &Document{
		MaxIterations: 1,
		Commands: []Step{
			{
				Shell: "might fail",
				OnExitCode: map[int]*Step{
					2: {Shell: "recover"},
				},
			},
		},
	}

	err = engine.Run(context.Background(), doc, "/repo")
	require.NoError(t, err)
}

func TestRunMapReduce_ProcessesListItemsAndRunsReduce(t *testing.T) {
	var reduceSaw string
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		line := shellLine(cmd)
		if strings.Contains(line, "summarize") {
			reduceSaw = line
		}
		return success("ok\n"), nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	engine := NewEngine(command.NewExecutor(runner), runner, store, "acme", "job-4")
	doc := &Document{
		Mode: ModeMapReduce,
		Map: &MapSpec{
			Input:       Input{List: []string{"a.go", "b.go"}},
			Parallelism: 2,
			MaxAttempts: 1,
			Steps: []Step{
				{Shell: "process ${ARG}"},
			},
		},
		Reduce: []Step{
			{Shell: "summarize ${map.completed_count}"},
		},
	}

	err = engine.Run(context.Background(), doc, "/repo")
	require.NoError(t, err)
	assert.Contains(t, reduceSaw, "summarize 2")

	items, err := store.DLQ.List(context.Background(), "acme", "job-4")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRunMapReduce_FailedItemsLandInDLQ(t *testing.T) {
	runner := &fakeRunner{onRun: func(cmd process.Command) (*process.Output, error) {
		line := shellLine(cmd)
		if strings.Contains(line, "bad") {
			return &process.Output{Status: process.ExitStatus{Kind: process.ExitError, Code: 1}}, nil
		}
		return success("ok\n"), nil
	}}
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	engine := NewEngine(command.NewExecutor(runner), runner, store, "acme", "job-5")
	doc := &Document{
		Mode: ModeMapReduce,
		Map: &MapSpec{
			Input:       Input{List: []string{"good", "bad"}},
			Parallelism: 1,
			MaxAttempts: 1,
			Steps: []Step{
				{Shell: "${ARG}"},
			},
		},
	}

	err = engine.Run(context.Background(), doc, "/repo")
	require.NoError(t, err)

	items, err := store.DLQ.List(context.Background(), "acme", "job-5")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bad", items[0].ItemID)
	assert.Equal(t, "bad", items[0].OriginalInput)
	assert.True(t, items[0].Retryable)
	assert.False(t, items[0].FirstFailedAt.IsZero())
	assert.False(t, items[0].LastFailedAt.IsZero())
}
