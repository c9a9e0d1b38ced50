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

	"github.com/cookflow/cook/internal/command"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// runSequential iterates a document's Commands in order, up to
// max_iterations times, starting at startIteration/startStepIndex (1/0 for a
// fresh run, or a checkpoint's cursor when resuming).
func (e *Engine) runSequential(ctx context.Context, doc *Document, workDir string, scope *Scope, startIteration, startStepIndex int) error {
	maxIterations := doc.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	for iteration := startIteration; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			e.emit(ctx, "workflow_end", "", "", map[string]any{"status": "interrupted", "iteration": iteration})
			_ = e.saveCheckpoint(ctx, string(ModeSequential), iteration, startStepIndex, scope, nil)
			return &pkgerrors.InterruptedError{RunID: e.runID}
		}

		e.emit(ctx, "iteration_start", "", "", map[string]any{"iteration": iteration})
		scope.Set("ITERATION", itoa(iteration))

		fromStep := 0
		if iteration == startIteration {
			fromStep = startStepIndex
		}

		for idx := fromStep; idx < len(doc.Commands); idx++ {
			if err := ctx.Err(); err != nil {
				e.emit(ctx, "workflow_end", "", "", map[string]any{"status": "interrupted", "iteration": iteration, "step_index": idx})
				_ = e.saveCheckpoint(ctx, string(ModeSequential), iteration, idx, scope, nil)
				return &pkgerrors.InterruptedError{RunID: e.runID}
			}

			meta := command.Metadata{StepID: stepID("step", idx+1), RunID: e.runID}
			e.emit(ctx, "step_start", meta.StepID, "", nil)

			result, err := e.runStep(ctx, scope, workDir, &doc.Commands[idx], idx+1, meta)
			if err != nil {
				e.emit(ctx, "step_end", meta.StepID, "", map[string]any{"status": "failed", "error": err.Error()})
				_ = e.saveCheckpoint(ctx, string(ModeSequential), iteration, idx, scope, nil)
				return err
			}
			e.emit(ctx, "step_end", meta.StepID, "", map[string]any{"status": "success", "exit_code": result.ExitCode})
		}

		e.emit(ctx, "iteration_end", "", "", map[string]any{"iteration": iteration})
		if err := e.saveCheckpoint(ctx, string(ModeSequential), iteration, len(doc.Commands), scope, nil); err != nil {
			return err
		}
	}

	e.emit(ctx, "workflow_end", "", "", map[string]any{"status": "success"})
	return nil
}
