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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cookflow/cook/internal/command"
	"github.com/cookflow/cook/internal/obslog"
	"github.com/cookflow/cook/internal/process"
	"github.com/cookflow/cook/internal/storage"
	"github.com/cookflow/cook/internal/worktree"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// Engine drives a Document through Sequential or MapReduce execution,
// dispatching every step through a command.Executor, recording progress as
// Events, and persisting Checkpoints a cancelled or crashed run can resume
// from. One Engine runs one job.
type Engine struct {
	cmdExec   *command.Executor
	runner    process.Runner
	store     *storage.Store
	worktrees *worktree.Manager

	repo  string
	runID string

	initialVars   map[string]string
	forceFailFast bool
	logMW         *obslog.StepMiddleware
}

// NewEngine builds an Engine for one job (repo/runID) backed by cmdExec for
// step execution, runner for the git invocations the engine itself makes
// (HEAD inspection, last-commit diffing), and store for events/checkpoints/
// the DLQ.
func NewEngine(cmdExec *command.Executor, runner process.Runner, store *storage.Store, repo, runID string) *Engine {
	return &Engine{cmdExec: cmdExec, runner: runner, store: store, repo: repo, runID: runID}
}

// WithWorktrees attaches a worktree Manager, enabling MapReduce's map phase
// to isolate each item in its own checkout. Without one, map items run
// directly in the working directory passed to Run.
func (e *Engine) WithWorktrees(mgr *worktree.Manager) *Engine {
	e.worktrees = mgr
	return e
}

// WithInitialVars seeds a fresh run's workflow-global scope with vars (e.g.
// `--args KEY=VALUE` from the CLI) before system/iteration/item layers are
// applied on top. Ignored on Resume, since the checkpoint's scope snapshot
// already carries whatever was seeded on the original run.
func (e *Engine) WithInitialVars(vars map[string]string) *Engine {
	e.initialVars = vars
	return e
}

// WithForcedFailFast makes every step behave as if fail_fast: true were set,
// regardless of what the step or document declares, for `cook run
// --fail-fast`.
func (e *Engine) WithForcedFailFast(force bool) *Engine {
	e.forceFailFast = force
	return e
}

// WithLogger attaches structured step logging. Every step dispatched through
// runStep logs its start and outcome through logger in addition to the
// storage-backed event log; without one, runStep logs nothing and behaves
// exactly as before.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger != nil {
		e.logMW = obslog.NewStepMiddleware(logger)
	}
	return e
}

func (e *Engine) newScope(doc *Document) *Scope {
	scope := NewScope()
	scope.Set("WORKFLOW_NAME", doc.Name)
	for k, v := range e.initialVars {
		scope.Set(k, v)
	}
	return scope
}

// Run executes doc in its effective mode starting from scratch.
func (e *Engine) Run(ctx context.Context, doc *Document, workDir string) error {
	switch doc.EffectiveMode() {
	case ModeMapReduce:
		return e.runMapReduce(ctx, doc, workDir, e.newScope(doc), nil)
	default:
		return e.runSequential(ctx, doc, workDir, e.newScope(doc), 1, 0)
	}
}

// Resume continues doc from the job's most recent checkpoint, or runs it
// from scratch if none exists.
func (e *Engine) Resume(ctx context.Context, doc *Document, workDir string) error {
	cp, err := e.store.Checkpoints.Latest(ctx, e.repo, e.runID)
	if err != nil {
		return err
	}
	if cp == nil {
		return e.Run(ctx, doc, workDir)
	}
	scope := NewScope()
	for k, v := range cp.Scope {
		if s, ok := v.(string); ok {
			scope.Set(k, s)
		}
	}
	if cp.Mode == string(ModeMapReduce) {
		return e.runMapReduce(ctx, doc, workDir, scope, cp.MapProgress)
	}
	return e.runSequential(ctx, doc, workDir, scope, cp.Iteration, cp.StepIndex)
}

func (e *Engine) emit(ctx context.Context, eventType, stepID, itemID string, data map[string]any) {
	_ = e.store.Events.Append(ctx, e.repo, e.runID, storage.Event{
		Type:      eventType,
		RunID:     e.runID,
		StepID:    stepID,
		ItemID:    itemID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (e *Engine) saveCheckpoint(ctx context.Context, mode string, iteration, stepIndex int, scope *Scope, progress *storage.MapProgress) error {
	return e.store.Checkpoints.Save(ctx, e.repo, e.runID, &storage.Checkpoint{
		RunID:       e.runID,
		Mode:        mode,
		Iteration:   iteration,
		StepIndex:   stepIndex,
		Scope:       scopeToMap(scope),
		MapProgress: progress,
	})
}

func scopeToMap(scope *Scope) map[string]any {
	m := make(map[string]any, len(scope.values))
	for k, v := range scope.values {
		m[k] = v
	}
	return m
}

// stepID names a step for events/checkpoints/metadata.
func stepID(prefix string, position int) string {
	return prefix + "_" + itoa(position)
}

// captureName resolves the scope variable name a step's stdout is stored
// under, honoring an explicit name or a disabled setting over the
// position-derived default.
func captureName(step *Step, position int) (string, bool) {
	if step.CaptureOutput.Disabled {
		return "", true
	}
	if step.CaptureOutput.Named != "" {
		return step.CaptureOutput.Named, false
	}
	return step.displayName(position), false
}

// runStep runs one step to completion: commit-required HEAD bookkeeping,
// execution, failure follow-up (on_exit_code / on_failure / fail_fast),
// capture_output scope writes, and declared-output verification against the
// last commit's changed files.
func (e *Engine) runStep(ctx context.Context, scope *Scope, workDir string, step *Step, position int, meta command.Metadata) (result *command.Result, err error) {
	if e.logMW != nil {
		event := obslog.StepEvent{RunID: e.runID, StepID: meta.StepID, ItemID: meta.ItemID, Kind: step.Kind().String()}
		start := time.Now()
		e.logMW.LogStepStart(event)
		defer func() {
			outcome := obslog.StepOutcome{DurationMs: time.Since(start).Milliseconds()}
			if result != nil {
				outcome.ExitCode = result.ExitCode
				outcome.Success = result.Status.Succeeded()
				if !outcome.Success {
					outcome.Error = result.Status.Message
				}
			}
			if err != nil {
				outcome.Success = false
				if outcome.Error == "" {
					outcome.Error = err.Error()
				}
			}
			e.logMW.LogStepEnd(event, outcome)
		}()
	}

	var headBefore string
	if step.CommitRequired {
		h, err := headHash(ctx, e.runner, workDir)
		if err != nil {
			return nil, &pkgerrors.StepFailedError{StepID: meta.StepID, Cause: err}
		}
		headBefore = h
	}

	req := step.toRequest(scope, workDir)
	req.Metadata = meta

	result, err = e.cmdExec.Execute(ctx, req)
	if err != nil {
		return nil, &pkgerrors.StepFailedError{StepID: meta.StepID, Cause: err}
	}

	if !result.Status.Succeeded() {
		result, err = e.handleFailure(ctx, scope, workDir, step, meta, result)
		if err != nil {
			return result, err
		}
	}

	if step.CommitRequired {
		headAfter, err := headHash(ctx, e.runner, workDir)
		if err == nil && headAfter == headBefore {
			return result, &pkgerrors.StepFailedError{StepID: meta.StepID, Cause: &pkgerrors.NoChangesCommittedError{StepID: meta.StepID}}
		}
	}

	if name, disabled := captureName(step, position); !disabled {
		scope.Set(name, result.Output.Stdout)
		scope.Set(name+".exit_code", itoa(result.ExitCode))
	}

	if len(step.Outputs) > 0 {
		files, err := lastCommitFiles(ctx, e.runner, workDir)
		if err != nil {
			return result, &pkgerrors.StepFailedError{StepID: meta.StepID, Cause: err}
		}
		for name, out := range step.Outputs {
			if _, ok := matchOutputPattern(files, out.FilePattern); !ok {
				return result, &pkgerrors.StepFailedError{
					StepID: meta.StepID,
					Cause:  fmt.Errorf("declared output %q (pattern %q) not found among files changed in the last commit", name, out.FilePattern),
				}
			}
		}
	}

	return result, nil
}

// handleFailure chooses a step's follow-up once it has not succeeded: an
// on_exit_code override wins outright, otherwise an on_failure retry policy
// (the REDESIGN FLAG #1 path any kind can carry, not just test), otherwise
// fail_fast (default true) aborts the run.
func (e *Engine) handleFailure(ctx context.Context, scope *Scope, workDir string, step *Step, meta command.Metadata, result *command.Result) (*command.Result, error) {
	if sub, ok := step.OnExitCode[result.ExitCode]; ok {
		return e.runStep(ctx, scope, workDir, sub, 0, meta)
	}

	if step.OnFailure != nil {
		return e.retryWithOnFailure(ctx, scope, workDir, step, meta, result)
	}

	failFast := true
	if step.FailFast != nil {
		failFast = *step.FailFast
	}
	if e.forceFailFast {
		failFast = true
	}
	if failFast {
		return result, &pkgerrors.StepFailedError{StepID: meta.StepID, Cause: errors.New(result.Status.Message)}
	}
	return result, nil
}

// retryWithOnFailure re-runs a failed step up to max_attempts times,
// optionally dispatching a Claude fixup prompt between attempts, escalating
// to a step failure only if fail_workflow is set once attempts are
// exhausted. Each re-attempt emits its own step_start/step_end pair, on top
// of the first attempt's pair emitted by the caller, so a step attempted N
// times produces N step_start events in the job's event log.
func (e *Engine) retryWithOnFailure(ctx context.Context, scope *Scope, workDir string, step *Step, meta command.Metadata, last *command.Result) (*command.Result, error) {
	policy := step.OnFailure
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	backoff := time.Second
	for attempt := 2; attempt <= maxAttempts; attempt++ {
		if policy.Claude != "" {
			fixup := &Step{Claude: policy.Claude}
			_, _ = e.runStep(ctx, scope, workDir, fixup, 0, meta)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2

		e.emit(ctx, "step_start", meta.StepID, meta.ItemID, map[string]any{"attempt": attempt})

		req := step.toRequest(scope, workDir)
		req.Metadata = meta
		result, err := e.cmdExec.Execute(ctx, req)
		if err != nil {
			e.emit(ctx, "step_end", meta.StepID, meta.ItemID, map[string]any{"attempt": attempt, "status": "failed", "error": err.Error()})
			return last, &pkgerrors.StepFailedError{StepID: meta.StepID, Cause: err}
		}
		last = result
		if result.Status.Succeeded() {
			e.emit(ctx, "step_end", meta.StepID, meta.ItemID, map[string]any{"attempt": attempt, "status": "success", "exit_code": result.ExitCode})
			return result, nil
		}
		e.emit(ctx, "step_end", meta.StepID, meta.ItemID, map[string]any{"attempt": attempt, "status": "failed", "exit_code": result.ExitCode})
	}

	if policy.FailWorkflow {
		return last, &pkgerrors.StepFailedError{StepID: meta.StepID, Cause: errors.New(last.Status.Message)}
	}
	return last, nil
}

// sleepCtx waits for d or returns ctx.Err() if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
