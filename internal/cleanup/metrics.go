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

package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cleanupTasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cook_cleanup_tasks_total",
			Help: "Total worktree cleanup tasks completed by outcome",
		},
		[]string{"outcome"},
	)

	activeWorktreeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cook_cleanup_active_worktrees",
			Help: "Worktrees currently tracked by the cleanup coordinator",
		},
	)
)

func recordCleanupSuccess() {
	cleanupTasksCompleted.WithLabelValues("success").Inc()
}

func recordCleanupFailure() {
	cleanupTasksCompleted.WithLabelValues("failure").Inc()
}

func recordActiveWorktrees(count int) {
	activeWorktreeGauge.Set(float64(count))
}
