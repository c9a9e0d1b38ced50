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

// Package workflow executes a workflow document in Sequential or
// MapReduce mode, translating each step into a command.Request and driving
// the run through checkpointed iterations or a parallel map/reduce over
// enumerated items.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode is the top-level execution strategy a document selects.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeMapReduce  Mode = "mapreduce"
)

// CaptureSetting is a step's capture_output field: default name derivation,
// an explicit name, or disabled entirely.
type CaptureSetting struct {
	Disabled bool
	Named    string // empty means "default" (derive from the step)
}

// UnmarshalYAML accepts the scalars "default", "disabled", and
// "named:<name>"; any other scalar is taken as the name itself. A mapping
// value is rejected with a decode error.
func (c *CaptureSetting) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch {
	case s == "" || s == "default":
		*c = CaptureSetting{}
	case s == "disabled":
		*c = CaptureSetting{Disabled: true}
	case len(s) > 6 && s[:6] == "named:":
		*c = CaptureSetting{Named: s[6:]}
	default:
		*c = CaptureSetting{Named: s}
	}
	return nil
}

// OnFailure is a Test step's retry/escalation policy.
type OnFailure struct {
	MaxAttempts  int    `yaml:"max_attempts"`
	Claude       string `yaml:"claude,omitempty"`
	FailWorkflow bool   `yaml:"fail_workflow"`
}

// Output declares a file the step is expected to have produced, matched
// against the files changed in the last commit.
type Output struct {
	FilePattern string `yaml:"file_pattern"`
}

// Step is one unit of work in a Sequential run or a map/setup/reduce phase.
// Exactly one of Claude/Shell/Test/Handler is set.
type Step struct {
	Claude  string          `yaml:"claude,omitempty"`
	Shell   string          `yaml:"shell,omitempty"`
	Test    string          `yaml:"test,omitempty"`
	Handler *HandlerStep    `yaml:"handler,omitempty"`

	OnFailure      *OnFailure        `yaml:"on_failure,omitempty"`
	OnSuccess      *Step             `yaml:"on_success,omitempty"`
	OnExitCode     map[int]*Step     `yaml:"on_exit_code,omitempty"`
	CaptureOutput  CaptureSetting    `yaml:"capture_output,omitempty"`
	Timeout        int               `yaml:"timeout,omitempty"`
	WorkingDir     string            `yaml:"working_dir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	CommitRequired bool              `yaml:"commit_required,omitempty"`
	Outputs        map[string]Output `yaml:"outputs,omitempty"`
	FailFast       *bool             `yaml:"fail_fast,omitempty"`
}

// HandlerStep invokes a registered in-process handler by name.
type HandlerStep struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args,omitempty"`
}

// Input selects the items a MapReduce run fans out over.
type Input struct {
	Glob string   `yaml:"glob,omitempty"`
	List []string `yaml:"list,omitempty"`
}

// MapSpec is the map phase of a MapReduce document.
type MapSpec struct {
	Input       Input  `yaml:"input"`
	Parallelism int    `yaml:"parallelism"`
	MaxAttempts int    `yaml:"max_attempts"`
	Steps       []Step `yaml:"steps"`
}

// Document is a parsed workflow file.
type Document struct {
	Name          string   `yaml:"name"`
	Mode          Mode     `yaml:"mode,omitempty"`
	MaxIterations int      `yaml:"max_iterations,omitempty"`
	Commands      []Step   `yaml:"commands,omitempty"`
	Setup         []Step   `yaml:"setup,omitempty"`
	Map           *MapSpec `yaml:"map,omitempty"`
	Reduce        []Step   `yaml:"reduce,omitempty"`
}

// EffectiveMode returns ModeMapReduce when the document declares mode:
// mapreduce or carries a map phase, and ModeSequential otherwise.
func (d *Document) EffectiveMode() Mode {
	if d.Mode == ModeMapReduce || d.Map != nil {
		return ModeMapReduce
	}
	return ModeSequential
}

// LoadDocument reads and parses a workflow document from path, applying
// the documented defaults (max_iterations=1, map.parallelism=1,
// map.max_attempts=1).
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing workflow document: %w", err)
	}
	if doc.MaxIterations == 0 {
		doc.MaxIterations = 1
	}
	if doc.Map != nil {
		if doc.Map.Parallelism == 0 {
			doc.Map.Parallelism = 1
		}
		if doc.Map.MaxAttempts == 0 {
			doc.Map.MaxAttempts = 1
		}
	}
	return &doc, nil
}
