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
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cookflow/cook/internal/command"
	"github.com/cookflow/cook/internal/storage"
	"github.com/cookflow/cook/internal/worktree"
	pkgerrors "github.com/cookflow/cook/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// itemOutcome is one map item's terminal result, fed back to the collector
// goroutine over resultsCh.
type itemOutcome struct {
	item          string
	attempts      int
	err           error
	summary       map[string]any
	firstFailedAt time.Time
	retryable     bool
}

// runMapReduce executes a document's optional setup phase, a bounded-
// parallelism map over its enumerated items, and an optional reduce phase.
// resume carries the prior run's map progress (nil for a fresh run), so
// already-completed items aren't re-dispatched.
func (e *Engine) runMapReduce(ctx context.Context, doc *Document, workDir string, scope *Scope, resume *storage.MapProgress) error {
	if doc.Map == nil {
		return &pkgerrors.ValidationFailedError{Issues: []string{"mapreduce mode requires a map phase"}}
	}

	for idx := range doc.Setup {
		meta := command.Metadata{StepID: stepID("setup", idx+1), RunID: e.runID}
		e.emit(ctx, "step_start", meta.StepID, "", nil)
		if _, err := e.runStep(ctx, scope, workDir, &doc.Setup[idx], idx+1, meta); err != nil {
			e.emit(ctx, "step_end", meta.StepID, "", map[string]any{"status": "failed", "error": err.Error()})
			return err
		}
		e.emit(ctx, "step_end", meta.StepID, "", map[string]any{"status": "success"})
	}

	items, err := enumerateItems(doc.Map.Input, workDir)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return &pkgerrors.ValidationFailedError{Issues: []string{
			fmt.Sprintf("map.input matched no items (glob %q, list len %d)", doc.Map.Input.Glob, len(doc.Map.Input.List)),
		}}
	}
	total := len(items)

	done := make(map[string]bool)
	completed, failed := 0, 0
	if resume != nil {
		for _, id := range resume.CompletedItems {
			done[id] = true
		}
		completed = resume.Completed
		failed = resume.Failed
	}

	pending := make([]string, 0, len(items))
	for _, item := range items {
		if !done[item] {
			pending = append(pending, item)
		}
	}

	parallelism := doc.Map.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := semaphore.NewWeighted(int64(parallelism))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultsCh := make(chan itemOutcome, len(pending))
	var wg sync.WaitGroup
	for i, item := range pending {
		wg.Add(1)
		go func(index int, item string) {
			defer wg.Done()
			if err := sem.Acquire(runCtx, 1); err != nil {
				resultsCh <- itemOutcome{item: item, err: err}
				return
			}
			defer sem.Release(1)

			resultsCh <- e.runMapItem(runCtx, doc.Map, scope, item, index, total, workDir)
		}(i, item)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var mu sync.Mutex
	var summaries []map[string]any
	var completedItems []string
	completedItems = append(completedItems, resumeCompletedIDs(resume)...)

	for outcome := range resultsCh {
		mu.Lock()
		if outcome.err != nil {
			failed++
			firstFailedAt := outcome.firstFailedAt
			if firstFailedAt.IsZero() {
				firstFailedAt = time.Now().UTC()
			}
			_ = e.store.DLQ.Put(ctx, e.repo, e.runID, &storage.DLQItem{
				ItemID:        outcome.item,
				RunID:         e.runID,
				OriginalInput: outcome.item,
				Reason:        outcome.err.Error(),
				Attempts:      outcome.attempts,
				LastError:     outcome.err.Error(),
				FirstFailedAt: firstFailedAt,
				LastFailedAt:  time.Now().UTC(),
				Retryable:     outcome.retryable,
			})
			e.emit(ctx, "item_failed", "", outcome.item, map[string]any{"error": outcome.err.Error(), "attempts": outcome.attempts})
		} else {
			completed++
			completedItems = append(completedItems, outcome.item)
			summaries = append(summaries, outcome.summary)
			e.emit(ctx, "item_completed", "", outcome.item, outcome.summary)
		}

		progress := &storage.MapProgress{Total: total, Completed: completed, Failed: failed, CompletedItems: append([]string{}, completedItems...)}
		_ = e.saveCheckpoint(ctx, string(ModeMapReduce), 0, 0, scope, progress)
		mu.Unlock()

		if ctx.Err() != nil {
			cancel()
		}
	}

	if ctx.Err() != nil {
		e.emit(ctx, "workflow_end", "", "", map[string]any{"status": "interrupted", "items_completed": completed, "items_failed": failed})
		return &pkgerrors.InterruptedError{RunID: e.runID}
	}

	reduceScope := scope.Derive()
	reduceScope.Set("map.completed_count", itoa(completed))
	reduceScope.Set("map.failed_count", itoa(failed))
	for idx := range doc.Reduce {
		meta := command.Metadata{StepID: stepID("reduce", idx+1), RunID: e.runID}
		e.emit(ctx, "step_start", meta.StepID, "", nil)
		if _, err := e.runStep(ctx, reduceScope, workDir, &doc.Reduce[idx], idx+1, meta); err != nil {
			e.emit(ctx, "step_end", meta.StepID, "", map[string]any{"status": "failed", "error": err.Error()})
			return err
		}
		e.emit(ctx, "step_end", meta.StepID, "", map[string]any{"status": "success"})
	}

	e.emit(ctx, "workflow_end", "", "", map[string]any{"status": "success", "items_completed": completed, "items_failed": failed})
	return nil
}

// runMapItem runs one item's map steps to completion, retrying up to
// max_attempts times in the same worktree before giving up. The worktree (if
// a Manager is attached) is merged back on success and always destroyed
// afterward, forced when the item failed.
func (e *Engine) runMapItem(ctx context.Context, mapSpec *MapSpec, scope *Scope, item string, index, total int, fallbackDir string) itemOutcome {
	itemScope := scope.Derive()
	itemScope.SetBuiltins(item, index, total)
	itemScope.Set("ITEM_ID", item)
	itemScope.Set("AGENT_ID", "agent-"+sanitizeName(item))

	itemDir := fallbackDir
	var handle *worktree.Handle
	if e.worktrees != nil {
		h, err := e.worktrees.CreateSession(ctx, "item-"+sanitizeName(item))
		if err != nil {
			return itemOutcome{item: item, err: err, firstFailedAt: time.Now().UTC(), retryable: true}
		}
		handle = h
		itemDir = h.Path
	}

	maxAttempts := mapSpec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	var lastResult *command.Result
	var firstFailedAt time.Time
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = nil
		for idx := range mapSpec.Steps {
			meta := command.Metadata{StepID: stepID("map", idx+1), RunID: e.runID, ItemID: item}
			result, err := e.runStep(ctx, itemScope, itemDir, &mapSpec.Steps[idx], idx+1, meta)
			lastResult = result
			if err != nil {
				lastErr = err
				if firstFailedAt.IsZero() {
					firstFailedAt = time.Now().UTC()
				}
				break
			}
		}
		if lastErr == nil {
			break
		}
		if attempt < maxAttempts {
			if err := sleepCtx(ctx, time.Second); err != nil {
				lastErr = err
				break
			}
		}
	}

	if handle != nil {
		if lastErr == nil {
			if mergeErr := e.worktrees.MergeSession(ctx, handle.Name); mergeErr != nil {
				lastErr = mergeErr
				if firstFailedAt.IsZero() {
					firstFailedAt = time.Now().UTC()
				}
			}
		}
		_ = e.worktrees.Destroy(ctx, handle, lastErr != nil)
	}

	if lastErr != nil {
		retryable := true
		if lastResult != nil && !lastResult.Status.Succeeded() {
			retryable = lastResult.Status.Retryable
		}
		return itemOutcome{
			item:          item,
			attempts:      maxAttempts,
			err:           &pkgerrors.ItemFailedError{ItemID: item, Cause: lastErr},
			firstFailedAt: firstFailedAt,
			retryable:     retryable,
		}
	}
	return itemOutcome{item: item, attempts: maxAttempts, summary: map[string]any{"item_id": item, "status": "completed"}}
}

// enumerateItems resolves a map phase's work items from an explicit list or
// a glob evaluated relative to workDir.
func enumerateItems(input Input, workDir string) ([]string, error) {
	if len(input.List) > 0 {
		return input.List, nil
	}
	if input.Glob != "" {
		matches, err := doublestar.Glob(os.DirFS(workDir), input.Glob)
		if err != nil {
			return nil, fmt.Errorf("evaluating map input glob %q: %w", input.Glob, err)
		}
		return matches, nil
	}
	return nil, &pkgerrors.ValidationFailedError{Issues: []string{"map.input requires either glob or list"}}
}

// sanitizeName turns an item identifier (often a file path) into a string
// safe to use as a branch/worktree name component.
func sanitizeName(item string) string {
	replacer := strings.NewReplacer("/", "-", " ", "-", ":", "-")
	s := replacer.Replace(item)
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}

// resumeCompletedIDs defends against a nil resume pointer so callers can
// range over it unconditionally.
func resumeCompletedIDs(p *storage.MapProgress) []string {
	if p == nil {
		return nil
	}
	return p.CompletedItems
}
