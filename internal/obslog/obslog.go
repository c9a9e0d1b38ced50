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

// Package obslog logs a workflow step's start and outcome through
// internal/log's slog.Logger and context helpers, wrapping each job, step or
// item execution with start/end log lines and its duration.
package obslog

import (
	"log/slog"
	"time"

	applog "github.com/cookflow/cook/internal/log"
)

// StepEvent identifies the step or map item a StepMiddleware call logs
// around.
type StepEvent struct {
	RunID  string
	StepID string
	ItemID string
	Kind   string // "claude", "shell", "test", "handler"
}

// StepOutcome is the result side of a StepEvent, logged once the step
// completes.
type StepOutcome struct {
	Success    bool
	ExitCode   int
	Error      string
	DurationMs int64
}

// StepMiddleware logs a step's start and end the same wrap-and-time way an
// RPC middleware logs a call's request and response.
type StepMiddleware struct {
	logger *slog.Logger
}

// NewStepMiddleware builds a StepMiddleware writing through logger.
func NewStepMiddleware(logger *slog.Logger) *StepMiddleware {
	return &StepMiddleware{logger: logger}
}

// LogStepStart logs a step beginning execution.
func (m *StepMiddleware) LogStepStart(event StepEvent) {
	logger := applog.WithStepContext(m.logger, event.RunID, event.StepID)
	attrs := []any{applog.EventKey, "step_start", "kind", event.Kind}
	if event.ItemID != "" {
		attrs = append(attrs, "item_id", event.ItemID)
	}
	logger.Info("step started", attrs...)
}

// LogStepEnd logs a step's outcome.
func (m *StepMiddleware) LogStepEnd(event StepEvent, outcome StepOutcome) {
	logger := applog.WithStepContext(m.logger, event.RunID, event.StepID)
	attrs := []any{
		applog.EventKey, "step_end",
		"kind", event.Kind,
		"success", outcome.Success,
		"exit_code", outcome.ExitCode,
		applog.DurationKey, outcome.DurationMs,
	}
	if event.ItemID != "" {
		attrs = append(attrs, "item_id", event.ItemID)
	}
	if outcome.Error != "" {
		attrs = append(attrs, "error", outcome.Error)
	}

	if outcome.Success {
		logger.Info("step completed", attrs...)
		return
	}
	logger.Error("step failed", attrs...)
}

// Handler wraps a step's execution function with start/end logging.
func (m *StepMiddleware) Handler(event StepEvent, run func() (StepOutcome, error)) (StepOutcome, error) {
	start := time.Now()
	m.LogStepStart(event)

	outcome, err := run()
	outcome.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		outcome.Success = false
		if outcome.Error == "" {
			outcome.Error = err.Error()
		}
	}

	m.LogStepEnd(event, outcome)
	return outcome, err
}
