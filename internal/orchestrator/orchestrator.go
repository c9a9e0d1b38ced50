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

// Package orchestrator runs one workflow job end to end: it checks
// prerequisites, allocates the worktree a sequential run executes in,
// drives the workflow engine, and tears the session down once it's done.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cookflow/cook/internal/cleanup"
	"github.com/cookflow/cook/internal/command"
	applog "github.com/cookflow/cook/internal/log"
	"github.com/cookflow/cook/internal/process"
	"github.com/cookflow/cook/internal/storage"
	"github.com/cookflow/cook/internal/workflow"
	"github.com/cookflow/cook/internal/worktree"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
	"github.com/google/uuid"
)

// Options configures one Orchestrator.Run invocation.
type Options struct {
	// Repo names the project for storage/locking purposes.
	Repo string
	// JobID identifies this run. Generated if empty.
	JobID string
	// ProjectDir is the host repository's working copy.
	ProjectDir string
	// WorkflowPath is the document's source path, recorded on the session
	// for later inspection (`cook sessions show`).
	WorkflowPath string
	// UseWorktrees isolates the run in its own worktree/branch rather than
	// running directly against ProjectDir. Always true for MapReduce mode,
	// since the per-item pool requires a Manager regardless.
	UseWorktrees bool
	// AutoMerge merges the top-level worktree's branch back once the run
	// succeeds.
	AutoMerge bool
	// AutoCleanup destroys the top-level worktree (directly, or via a
	// Coordinator if one is attached) once the run is torn down.
	AutoCleanup bool
	// Resume continues JobID from its last checkpoint instead of starting
	// fresh.
	Resume bool
	// TestMode skips the prerequisite checks that assume a real git repo
	// and a `claude` binary on PATH.
	TestMode bool
	// FailFast forces every step to behave as if fail_fast: true were set,
	// for `cook run --fail-fast`.
	FailFast bool
	// Vars seeds the workflow-global scope before the run starts, for
	// `cook run --args KEY=VALUE`. Ignored on Resume.
	Vars map[string]string
}

// Result summarizes a completed run.
type Result struct {
	JobID   string
	Session *storage.Session
	Err     error
}

// Orchestrator sequences preflight, session setup, workflow dispatch, and
// teardown for one job, grounded on the same six-step ordering (preflight,
// environment setup, session start, dispatch, teardown, with resume as a
// parallel entry) the workflow executor's callers expect.
type Orchestrator struct {
	runner  process.Runner
	cmdExec *command.Executor
	store   *storage.Store
	reaper  *cleanup.Coordinator
	logger  *slog.Logger
}

// NewOrchestrator builds an Orchestrator. reaper may be nil, in which case
// AutoCleanup destroys worktrees synchronously during teardown instead of
// handing them to a background coordinator. The orchestrator's step logging
// is configured from the process environment (COOK_DEBUG, COOK_LOG_LEVEL,
// LOG_FORMAT), the same knobs internal/log.FromEnv documents.
func NewOrchestrator(runner process.Runner, store *storage.Store, reaper *cleanup.Coordinator) *Orchestrator {
	return &Orchestrator{
		runner:  runner,
		cmdExec: command.NewExecutor(runner).WithHandlers(command.NewBuiltinHandlers()),
		store:   store,
		reaper:  reaper,
		logger:  applog.New(applog.FromEnv()),
	}
}

// Run executes doc under opts and returns once the job has reached a
// terminal state (succeeded, failed, or was interrupted). The worktree
// session, if any, is merged and/or cleaned up during teardown regardless
// of how dispatch ended.
func (o *Orchestrator) Run(ctx context.Context, doc *workflow.Document, opts Options) Result {
	jobID := opts.JobID
	if jobID == "" {
		jobID = "job-" + uuid.NewString()[:8]
	}

	logger := applog.WithComponent(applog.WithRunContext(o.logger, jobID, opts.WorkflowPath), "orchestrator")
	logger.Info("run starting", applog.String("repo", opts.Repo), applog.String("workflow", opts.WorkflowPath), applog.Bool("resume", opts.Resume))

	if err := checkPrerequisites(ctx, o.runner, opts.ProjectDir, opts.TestMode); err != nil {
		logger.Error("preflight failed", applog.Error(err))
		return Result{JobID: jobID, Err: &pkgerrors.StepFailedError{StepID: "preflight", Cause: err}}
	}

	var mgr *worktree.Manager
	var handle *worktree.Handle
	workDir := opts.ProjectDir
	needsWorktrees := opts.UseWorktrees || doc.EffectiveMode() == workflow.ModeMapReduce

	if needsWorktrees {
		mgr = worktree.NewManager(opts.ProjectDir, o.runner, o.store, opts.Repo, jobID)
		if o.reaper != nil {
			o.reaper.RegisterJob(jobID)
		}
		if doc.EffectiveMode() != workflow.ModeMapReduce {
			h, err := mgr.CreateSession(ctx, "")
			if err != nil {
				return Result{JobID: jobID, Err: err}
			}
			handle = h
			workDir = h.Path
			if o.reaper != nil {
				o.reaper.RegisterWorktree(jobID, handle)
			}
		}
	}

	session := &storage.Session{
		ID:           jobID,
		Repo:         opts.Repo,
		JobID:        jobID,
		WorkflowPath: opts.WorkflowPath,
		Status:       storage.StatusInProgress,
		CreatedAt:    time.Now().UTC(),
	}
	if handle != nil {
		session.WorktreeDir = handle.Path
		session.Branch = handle.Branch
	}
	if err := o.store.Sessions.Save(ctx, session); err != nil {
		return Result{JobID: jobID, Err: err}
	}

	engine := workflow.NewEngine(o.cmdExec, o.runner, o.store, opts.Repo, jobID)
	if mgr != nil {
		engine = engine.WithWorktrees(mgr)
	}
	engine = engine.WithInitialVars(opts.Vars).WithForcedFailFast(opts.FailFast).WithLogger(o.logger)

	headBefore, _ := headHashQuiet(ctx, o.runner, workDir)

	var runErr error
	if opts.Resume {
		runErr = engine.Resume(ctx, doc, workDir)
	} else {
		runErr = engine.Run(ctx, doc, workDir)
	}

	session.Status = storage.StatusCompleted
	if runErr != nil {
		var interrupted *pkgerrors.InterruptedError
		if errors.As(runErr, &interrupted) {
			session.Status = storage.StatusInterrupted
		} else {
			session.Status = storage.StatusFailed
		}
	}

	if headAfter, err := headHashQuiet(ctx, o.runner, workDir); err == nil && headAfter != headBefore && headBefore != "" {
		if n, err := changedFileCount(ctx, o.runner, workDir, headBefore, headAfter); err == nil {
			session.FilesChanged = n
		}
	}
	if cp, err := o.store.Checkpoints.Latest(ctx, opts.Repo, jobID); err == nil && cp != nil {
		session.IterationsCompleted = cp.Iteration
	}
	session.EndedAt = time.Now().UTC()
	_ = o.store.Sessions.Save(ctx, session)

	if runErr != nil {
		logger.Error("run finished", applog.String("status", session.Status), applog.Error(runErr))
	} else {
		logger.Info("run finished", applog.String("status", session.Status))
	}

	if handle != nil {
		o.teardown(ctx, mgr, handle, jobID, opts, runErr == nil)
	}

	return Result{JobID: jobID, Session: session, Err: runErr}
}

// teardown merges the top-level worktree back (if AutoMerge and the run
// succeeded) and destroys it (if AutoCleanup), either synchronously or by
// handing it to the background reaper when one is attached.
func (o *Orchestrator) teardown(ctx context.Context, mgr *worktree.Manager, handle *worktree.Handle, jobID string, opts Options, succeeded bool) {
	if opts.AutoMerge && succeeded {
		_ = mgr.MergeSession(ctx, handle.Name)
	}
	if !opts.AutoCleanup {
		return
	}
	if o.reaper != nil {
		o.reaper.Enqueue(cleanup.Task{Kind: cleanup.Immediate, JobID: jobID, Handle: handle, Force: !succeeded})
		return
	}
	_ = mgr.Destroy(ctx, handle, !succeeded)
}
