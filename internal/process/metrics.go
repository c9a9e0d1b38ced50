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

package process

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cook_process_starts_total",
			Help: "Total processes spawned by program name",
		},
		[]string{"program"},
	)

	processesTimedOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cook_process_timeouts_total",
			Help: "Total processes killed after exceeding their timeout",
		},
		[]string{"program"},
	)

	processDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cook_process_duration_seconds",
			Help:    "Process wall-clock duration by program and exit kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"program", "exit_kind"},
	)
)

func recordProcessStart(program string) {
	processesStarted.WithLabelValues(program).Inc()
}

func recordProcessTimeout(program string) {
	processesTimedOut.WithLabelValues(program).Inc()
}

func exitKindLabel(kind ExitKind) string {
	switch kind {
	case ExitSuccess:
		return "success"
	case ExitError:
		return "error"
	case ExitSignal:
		return "signal"
	case ExitTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func recordProcessDuration(program string, kind ExitKind, seconds float64) {
	processDuration.WithLabelValues(program, exitKindLabel(kind)).Observe(seconds)
}
