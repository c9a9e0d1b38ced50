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

package obslog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	applog "github.com/cookflow/cook/internal/log"
)

func newTestLogger(buf *bytes.Buffer) *applog.Config {
	return &applog.Config{Level: "info", Format: applog.FormatJSON, Output: buf}
}

func TestStepMiddleware_HandlerLogsStartAndSuccessfulEnd(t *testing.T) {
	var buf bytes.Buffer
	m := NewStepMiddleware(applog.New(newTestLogger(&buf)))

	event := StepEvent{RunID: "run-1", StepID: "step_1", Kind: "shell"}
	_, err := m.Handler(event, func() (StepOutcome, error) {
		return StepOutcome{Success: true, ExitCode: 0}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}

	var start, end map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &start); err != nil {
		t.Fatalf("start line not valid JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &end); err != nil {
		t.Fatalf("end line not valid JSON: %v", err)
	}

	if start["event"] != "step_start" {
		t.Errorf("expected step_start event, got %v", start["event"])
	}
	if end["event"] != "step_end" || end["success"] != true {
		t.Errorf("expected successful step_end event, got %v", end)
	}
}

func TestStepMiddleware_HandlerLogsFailureWithError(t *testing.T) {
	var buf bytes.Buffer
	m := NewStepMiddleware(applog.New(newTestLogger(&buf)))

	event := StepEvent{RunID: "run-2", StepID: "step_1", ItemID: "item-a", Kind: "claude"}
	_, err := m.Handler(event, func() (StepOutcome, error) {
		return StepOutcome{}, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected an error")
	}

	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("expected error field in log output, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"item_id":"item-a"`) {
		t.Errorf("expected item_id field in log output, got: %s", buf.String())
	}
}
