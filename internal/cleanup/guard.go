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

import "github.com/cookflow/cook/internal/worktree"

// Guard ties a worktree handle's lifetime to an explicit Release call: a
// caller that allocates a worktree and wants it torn down no matter how its
// own function returns holds a Guard and defers Release, instead of
// remembering to call Enqueue on every exit path. Where the original's
// CleanupGuard schedules cleanup on drop, Go has no destructors, so Release
// is the explicit equivalent.
type Guard struct {
	coordinator *Coordinator
	jobID       string
	handle      *worktree.Handle
	released    bool
}

// NewGuard returns a Guard over handle, registering it with the coordinator
// so resource checks see it immediately.
func NewGuard(coordinator *Coordinator, jobID string, handle *worktree.Handle) *Guard {
	coordinator.RegisterWorktree(jobID, handle)
	return &Guard{coordinator: coordinator, jobID: jobID, handle: handle}
}

// Release enqueues the guarded handle for cleanup. Calling Release more
// than once is a no-op.
func (g *Guard) Release(force bool) {
	if g.released {
		return
	}
	g.released = true
	g.coordinator.Enqueue(Task{Kind: Immediate, JobID: g.jobID, Handle: g.handle, Force: force})
}

// Dismiss marks the guard released without enqueuing cleanup, for callers
// that end up destroying (or otherwise accounting for) the handle
// themselves.
func (g *Guard) Dismiss() {
	g.released = true
}
