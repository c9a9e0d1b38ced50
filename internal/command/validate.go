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
	"fmt"
	"regexp"
)

// Validate runs the non-destructive checks a request must pass before it is
// ever spawned. An IssueError anywhere in the result means Execute must
// reject the request outright.
func Validate(req Request) []Issue {
	var issues []Issue

	switch req.Spec.Kind {
	case Claude:
		if req.Spec.Prompt == "" {
			issues = append(issues, Issue{Level: IssueError, Message: "claude request has an empty prompt"})
		}
	default:
		if req.Spec.Program == "" {
			issues = append(issues, Issue{Level: IssueError, Message: "command program is empty"})
		}
	}

	if req.Config.Timeout < 0 {
		issues = append(issues, Issue{Level: IssueError, Message: "timeout must not be negative"})
	}

	for _, pattern := range req.Config.ForbiddenRegex {
		if _, err := regexp.Compile(pattern); err != nil {
			issues = append(issues, Issue{Level: IssueError, Message: fmt.Sprintf("forbidden pattern %q does not compile: %v", pattern, err)})
		}
	}
	if req.Config.ExpectedPattern != "" {
		if _, err := regexp.Compile(req.Config.ExpectedPattern); err != nil {
			issues = append(issues, Issue{Level: IssueError, Message: fmt.Sprintf("expected pattern %q does not compile: %v", req.Config.ExpectedPattern, err)})
		}
	}

	if err := screenInjection(req.Spec.Kind, req.Spec.Args, req.Spec.Prompt); err != nil {
		issues = append(issues, Issue{Level: IssueSecurityError, Message: err.Error()})
	}

	if _, err := screenWorkingDir(req.Config.WorkingDir); err != nil {
		issues = append(issues, Issue{Level: IssueSecurityError, Message: err.Error()})
	}

	if warning, err := screenDeniedProgram(req.Spec.Kind, req.Spec.Program); err != nil {
		issues = append(issues, Issue{Level: IssueSecurityError, Message: err.Error()})
	} else if warning != "" {
		issues = append(issues, Issue{Level: IssueWarning, Message: warning})
	}

	return issues
}

// hasError reports whether any issue in the list rejects the request
// (IssueError or IssueSecurityError).
func hasError(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Level == IssueError || issue.Level == IssueSecurityError {
			return true
		}
	}
	return false
}

// hasSecurityError reports whether any issue in the list is a pre-spawn
// security rejection, taking priority over plain validation failures when
// Execute picks the Result's Failure kind.
func hasSecurityError(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Level == IssueSecurityError {
			return true
		}
	}
	return false
}
