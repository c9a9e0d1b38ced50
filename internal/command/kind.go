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

// Package command validates and executes the four kinds of work a workflow
// step can issue (Claude, Shell, Test, Handler) behind one normalized
// request/result shape, running every spawn through internal/process.
package command

import "time"

// Kind is the closed set of command variants a request may carry.
type Kind int

const (
	Claude Kind = iota
	Shell
	Test
	Handler
)

func (k Kind) String() string {
	switch k {
	case Claude:
		return "claude"
	case Shell:
		return "shell"
	case Test:
		return "test"
	case Handler:
		return "handler"
	default:
		return "unknown"
	}
}

// CaptureMode selects which streams (and how) a result carries.
type CaptureMode int

const (
	CaptureNone CaptureMode = iota
	CaptureStdout
	CaptureStderr
	CaptureBoth
	CaptureStructured
)

// ResourceEstimate is a static planning figure for a command kind, used by
// callers that schedule work before it runs (MapReduce parallelism, queue
// admission).
type ResourceEstimate struct {
	Duration   time.Duration
	MemoryMB   int
	CPUPercent int
	Confidence float64
}

// estimates is the static lookup table from spec: Claude's duration is
// unknown so it carries the zero value; shell
// commands beginning with "git" are cheaper and more predictable than
// general shell.
var (
	estimateClaude     = ResourceEstimate{Duration: 0, MemoryMB: 512, CPUPercent: 10, Confidence: 0.5}
	estimateShellGit   = ResourceEstimate{Duration: 5 * time.Second, MemoryMB: 128, CPUPercent: 20, Confidence: 0.8}
	estimateShellOther = ResourceEstimate{Duration: 10 * time.Second, MemoryMB: 256, CPUPercent: 50, Confidence: 0.3}
	estimateTest       = ResourceEstimate{Duration: 30 * time.Second, MemoryMB: 512, CPUPercent: 80, Confidence: 0.7}
	estimateHandler    = ResourceEstimate{Duration: 2 * time.Second, MemoryMB: 64, CPUPercent: 10, Confidence: 0.9}
)

// Estimate returns the static resource estimate for a request. Shell
// commands whose program is "git" get the cheaper git estimate; all other
// shell commands get the general-purpose one.
func Estimate(spec Spec) ResourceEstimate {
	switch spec.Kind {
	case Claude:
		return estimateClaude
	case Shell:
		if spec.Program == "git" {
			return estimateShellGit
		}
		return estimateShellOther
	case Test:
		return estimateTest
	case Handler:
		return estimateHandler
	default:
		return estimateShellOther
	}
}
