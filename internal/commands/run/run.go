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

// Package run implements the `cook run` command: load a workflow document
// and drive it to completion through the orchestrator.
package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cookflow/cook/internal/commands/shared"
	"github.com/cookflow/cook/internal/config"
	"github.com/cookflow/cook/internal/orchestrator"
	"github.com/cookflow/cook/internal/process"
	"github.com/cookflow/cook/internal/storage"
	"github.com/cookflow/cook/internal/workflow"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	repoFlag       string
	jobIDFlag      string
	worktreeF      bool
	autoMergeF     bool
	autoCleanF     bool
	resumeFlag     bool
	pathFlag       string
	maxIterationsF int
	mapPatternsF   []string
	argsF          []string
	failFastF      bool
	autoAcceptF    bool
)

// NewCommand builds the `cook run` subcommand.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Run a workflow document",
		Long:  `Load a workflow document and execute it sequentially or as a map-reduce job.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "default", "repository identifier under which state is namespaced")
	cmd.Flags().StringVar(&jobIDFlag, "job-id", "", "resume or label the run with this job ID (generated if empty)")
	cmd.Flags().StringVar(&pathFlag, "path", ".", "host repository working copy")
	cmd.Flags().BoolVar(&worktreeF, "worktree", false, "run the top-level job in its own worktree/branch")
	cmd.Flags().BoolVar(&autoMergeF, "auto-merge", false, "merge the worktree branch back on success")
	cmd.Flags().BoolVar(&autoCleanF, "auto-cleanup", false, "destroy the worktree after teardown")
	cmd.Flags().BoolVar(&resumeFlag, "resume", false, "resume the job from its last checkpoint")
	cmd.Flags().IntVar(&maxIterationsF, "max-iterations", 0, "override the document's max_iterations (sequential mode only)")
	cmd.Flags().StringArrayVar(&mapPatternsF, "map", nil, "override the map phase's input glob (repeatable; combined as alternatives)")
	cmd.Flags().StringArrayVar(&argsF, "args", nil, "KEY=VALUE pairs seeded into the workflow-global scope (repeatable)")
	cmd.Flags().BoolVar(&failFastF, "fail-fast", false, "treat every step as fail_fast regardless of its own setting")
	cmd.Flags().BoolVarP(&autoAcceptF, "auto-accept", "y", false, "accept worktree merge/cleanup without prompting (implies --auto-merge --auto-cleanup)")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	docPath := args[0]

	doc, err := workflow.LoadDocument(docPath)
	if err != nil {
		return shared.NewArgumentError(fmt.Sprintf("loading workflow document %q", docPath), err)
	}

	if maxIterationsF > 0 {
		doc.MaxIterations = maxIterationsF
	}
	if len(mapPatternsF) > 0 {
		if doc.Map == nil {
			return shared.NewArgumentError("--map", fmt.Errorf("workflow document has no map phase to override"))
		}
		doc.Map.Input = workflow.Input{Glob: combineGlobs(mapPatternsF)}
	}

	vars, err := parseArgVars(argsF)
	if err != nil {
		return shared.NewArgumentError("--args", err)
	}

	cfg := config.FromEnv()
	store, err := storage.Open(cfg.StorageDir)
	if err != nil {
		return shared.NewExecutionError("opening storage", err)
	}
	defer store.Close()

	runner := process.NewOSRunner()

	// The orchestrator allocates its own worktree Manager per job (so it can
	// size the worktree's path against that job's ID); a background reaper
	// here would need to share that Manager to destroy through the same
	// project checkout, so teardown with --auto-cleanup runs synchronously
	// via the orchestrator's own Destroy call instead of a Coordinator. No
	// command in this CLI attaches a Coordinator; `worktree clean-orphaned`
	// also destroys synchronously through its own Manager.
	orch := orchestrator.NewOrchestrator(runner, store, nil)

	opts := orchestrator.Options{
		Repo:         repoFlag,
		JobID:        jobIDFlag,
		ProjectDir:   pathFlag,
		WorkflowPath: docPath,
		UseWorktrees: worktreeF,
		AutoMerge:    autoMergeF || autoAcceptF || cfg.AutoMerge,
		AutoCleanup:  autoCleanF || autoAcceptF || cfg.AutoCleanup,
		Resume:       resumeFlag,
		TestMode:     cfg.TestMode,
		FailFast:     failFastF,
		Vars:         vars,
	}

	result := orch.Run(cmd.Context(), doc, opts)

	if shared.GetJSON() {
		type jsonResult struct {
			shared.JSONResponse
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		}
		status := ""
		if result.Session != nil {
			status = result.Session.Status
		}
		resp := jsonResult{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "run", Success: result.Err == nil},
			JobID:        result.JobID,
			Status:       status,
		}
		data, marshalErr := json.MarshalIndent(resp, "", "  ")
		if marshalErr != nil {
			return shared.NewExecutionError("marshaling run result", marshalErr)
		}
		fmt.Fprintln(os.Stdout, string(data))
	} else if !shared.GetQuiet() {
		cmd.Printf("job %s: %s\n", result.JobID, statusOrUnknown(result))
	}

	if result.Err != nil {
		return mapRunError(result.JobID, result.Err)
	}
	return nil
}

// mapRunError classifies a failed run onto spec.md §6's exit codes: a
// preflight failure (checked before any session is created) is 4, an
// interrupted run is 3, everything else is the general-error code 1.
func mapRunError(jobID string, err error) error {
	var stepErr *pkgerrors.StepFailedError
	if errors.As(err, &stepErr) && stepErr.StepID == "preflight" {
		return shared.NewPreflightError(fmt.Sprintf("job %s: preflight checks failed", jobID), err)
	}
	var interrupted *pkgerrors.InterruptedError
	if errors.As(err, &interrupted) {
		return shared.NewInterruptedError(fmt.Sprintf("job %s was interrupted", jobID), err)
	}
	return shared.NewExecutionError(fmt.Sprintf("job %s failed", jobID), err)
}

func statusOrUnknown(result orchestrator.Result) string {
	if result.Session == nil {
		return "unknown"
	}
	return result.Session.Status
}

// combineGlobs folds one or more --map patterns into a single doublestar
// glob, using brace alternation when more than one is given.
func combineGlobs(patterns []string) string {
	if len(patterns) == 1 {
		return patterns[0]
	}
	return "{" + strings.Join(patterns, ",") + "}"
}

// parseArgVars parses repeated `--args KEY=VALUE` flags into a map.
func parseArgVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		vars[k] = v
	}
	return vars, nil
}
