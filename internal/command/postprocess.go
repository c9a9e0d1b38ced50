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

package command

import (
	"encoding/json"
	"regexp"
	"strings"
)

// claudeFramingPrefixes are well-known wrapper lines stripped from the front
// of Claude stdout before the fenced-JSON scan.
var claudeFramingPrefixes = []string{
	"Here is the result:",
	"Here's the result:",
	"```",
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// shellErrorPatterns are scanned for in shell stderr, in priority order, to
// populate a short error summary.
var shellErrorPatterns = []string{
	"command not found",
	"No such file or directory",
	"Permission denied",
	"fatal:",
	"error:",
}

// postProcess applies kind-specific output processing, mutating out in
// place. It never changes the failure status already derived from the
// process's exit kind.
func postProcess(kind Kind, capture CaptureMode, out *ProcessedOutput) {
	switch kind {
	case Claude:
		postProcessClaude(capture, out)
	case Shell:
		postProcessShell(out)
	case Handler:
		// pass-through
	case Test:
		// exit-code mismatch handling lives in the executor, where the
		// expected code is known
	}
}

func postProcessClaude(capture CaptureMode, out *ProcessedOutput) {
	stripped := out.Stdout
	for _, prefix := range claudeFramingPrefixes {
		stripped = strings.TrimPrefix(strings.TrimSpace(stripped), prefix)
	}
	out.Stdout = strings.TrimSpace(stripped)

	if capture != CaptureStructured {
		return
	}
	match := fencedJSONPattern.FindStringSubmatch(out.Stdout)
	if match == nil {
		return
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(match[1]), &data); err != nil {
		out.Warnings = append(out.Warnings, "found a fenced block but it was not valid JSON")
		return
	}
	out.Structured = data
	out.Format = "json"
}

func postProcessShell(out *ProcessedOutput) {
	for _, pattern := range shellErrorPatterns {
		if strings.Contains(out.Stderr, pattern) {
			out.ErrorSummary = pattern
			return
		}
	}
}

// validateOutput checks an expected-match pattern and forbidden patterns
// against stdout, returning a validation Status on failure.
func validateOutput(cfg ExecConfig, stdout string) (Status, bool) {
	if cfg.ExpectedPattern != "" {
		re, err := regexp.Compile(cfg.ExpectedPattern)
		if err == nil && !re.MatchString(stdout) {
			return Status{Failure: FailureValidationFailed, Message: "stdout did not match expected pattern", Retryable: false}, true
		}
	}
	for _, pattern := range cfg.ForbiddenRegex {
		re, err := regexp.Compile(pattern)
		if err == nil && re.MatchString(stdout) {
			return Status{Failure: FailureValidationFailed, Message: "stdout matched a forbidden pattern", Retryable: false}, true
		}
	}
	return Status{}, false
}
