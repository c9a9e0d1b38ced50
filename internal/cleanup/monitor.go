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

// RecommendationKind classifies what the resource monitor thinks should
// happen next.
type RecommendationKind int

const (
	// NoAction means the tracked worktree count is comfortably under limit.
	NoAction RecommendationKind = iota
	// CleanupOld recommends destroying the oldest worktrees; it carries no
	// age threshold.
	CleanupOld
	// CleanupFailed recommends destroying worktrees belonging to failed items.
	CleanupFailed
	// EmergencyCleanup means the hard cap was crossed and cleanup must run
	// regardless of what the queue currently holds.
	EmergencyCleanup
)

// Recommendation is the monitor's current verdict, with Reason carrying a
// human-readable justification for EmergencyCleanup.
type Recommendation struct {
	Kind   RecommendationKind
	Reason string
}

// Metrics is a point-in-time snapshot of what the coordinator is tracking.
type Metrics struct {
	ActiveWorktrees int
	FailedItems     int
}

// ResourceMonitor turns a Metrics snapshot into a Recommendation by
// comparing its ActiveWorktrees count against the configured per-job and
// total worktree limits. The snapshot holds one count, so both limits are
// checked against that same number.
type ResourceMonitor struct {
	maxPerJob int
	maxTotal  int
	last      Metrics
}

// NewResourceMonitor builds a monitor with the given limits. A zero or
// negative limit disables that particular check.
func NewResourceMonitor(maxPerJob, maxTotal int) *ResourceMonitor {
	return &ResourceMonitor{maxPerJob: maxPerJob, maxTotal: maxTotal}
}

// Update records the latest metrics snapshot.
func (m *ResourceMonitor) Update(metrics Metrics) {
	m.last = metrics
}

// Recommendation evaluates the last recorded snapshot against the
// configured limits. The hard total cap takes priority over the softer
// per-job and failed-item checks.
func (m *ResourceMonitor) Recommendation() Recommendation {
	if m.maxTotal > 0 && m.last.ActiveWorktrees > m.maxTotal {
		return Recommendation{
			Kind:   EmergencyCleanup,
			Reason: "active worktree count exceeds the total limit",
		}
	}
	if m.last.FailedItems > 0 {
		return Recommendation{Kind: CleanupFailed}
	}
	if m.maxPerJob > 0 && m.last.ActiveWorktrees > m.maxPerJob {
		return Recommendation{Kind: CleanupOld}
	}
	return Recommendation{Kind: NoAction}
}

// Metrics returns the last recorded snapshot.
func (m *ResourceMonitor) Metrics() Metrics {
	return m.last
}
