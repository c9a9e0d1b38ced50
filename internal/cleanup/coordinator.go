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

// Package cleanup runs a background worker that destroys worktree sessions
// once a job no longer needs them, so a caller that wants one merged and
// gone doesn't have to wait on `git worktree remove` inline.
package cleanup

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cookflow/cook/internal/worktree"
	"golang.org/x/sync/semaphore"
)

// TaskKind selects how a Task is scheduled.
type TaskKind int

const (
	// Immediate enqueues the task for the very next worker tick.
	Immediate TaskKind = iota
	// Scheduled delays enqueuing the task by Delay.
	Scheduled
	// Batch destroys every handle in Handles as one unit of work.
	Batch
)

// Task is one unit of cleanup work.
type Task struct {
	Kind    TaskKind
	Handle  *worktree.Handle
	Handles []*worktree.Handle
	Delay   time.Duration
	JobID   string
	Force   bool
}

// Config bounds the coordinator's resource accounting and poll cadence.
type Config struct {
	// MaxWorktreesPerJob is the soft cap this job's caller is expected to
	// respect. The resource check run every ResourceCheckInterval compares it
	// against the active count summed over every job and reports CleanupOld
	// once that count crosses it; nothing is destroyed for that verdict.
	MaxWorktreesPerJob int
	// MaxTotalWorktrees is the hard cap across every job sharing this
	// coordinator; crossing it yields an EmergencyCleanup recommendation.
	MaxTotalWorktrees int
	// PollInterval is how often the worker drains the task queue.
	PollInterval time.Duration
	// ResourceCheckInterval is how often active-worktree age and count are
	// re-evaluated against the limits above.
	ResourceCheckInterval time.Duration
	// Parallelism bounds how many destroys the worker runs concurrently.
	Parallelism int
}

// DefaultConfig returns the documented defaults: 1s task poll, 60s resource
// check, destroys bounded to 4 at a time.
func DefaultConfig() Config {
	return Config{
		MaxWorktreesPerJob:    20,
		MaxTotalWorktrees:     100,
		PollInterval:          time.Second,
		ResourceCheckInterval: 60 * time.Second,
		Parallelism:           4,
	}
}

type trackedWorktree struct {
	handle    *worktree.Handle
	jobID     string
	createdAt time.Time
}

// Coordinator queues and executes worktree teardown in the background,
// tracking active worktrees per job so it can recommend or force cleanup
// once resource limits are crossed.
type Coordinator struct {
	cfg     Config
	mgr     *worktree.Manager
	monitor *ResourceMonitor
	sem     *semaphore.Weighted

	mu      sync.Mutex
	active  map[string][]*trackedWorktree
	queue   *list.List
	started bool
	stop    context.CancelFunc
	done    chan struct{}
}

// NewCoordinator builds a Coordinator that destroys worktrees through mgr.
func NewCoordinator(mgr *worktree.Manager, cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ResourceCheckInterval <= 0 {
		cfg.ResourceCheckInterval = 60 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Coordinator{
		cfg:     cfg,
		mgr:     mgr,
		monitor: NewResourceMonitor(cfg.MaxWorktreesPerJob, cfg.MaxTotalWorktrees),
		sem:     semaphore.NewWeighted(int64(cfg.Parallelism)),
		active:  make(map[string][]*trackedWorktree),
		queue:   list.New(),
	}
}

// Start launches the background worker. Calling Start on an already-started
// Coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.started = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(workerCtx)
}

// Stop signals the worker to exit and waits for it to drain its current
// task before returning.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel := c.stop
	done := c.done
	c.started = false
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	taskTicker := time.NewTicker(c.cfg.PollInterval)
	defer taskTicker.Stop()
	resourceTicker := time.NewTicker(c.cfg.ResourceCheckInterval)
	defer resourceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-taskTicker.C:
			c.drainOne(ctx)
		case <-resourceTicker.C:
			c.checkResources(ctx)
		}
	}
}

// drainOne pops and executes at most one task per tick, matching the
// worker's one-task-per-second cadence.
func (c *Coordinator) drainOne(ctx context.Context) {
	c.mu.Lock()
	front := c.queue.Front()
	var task Task
	if front != nil {
		task = c.queue.Remove(front).(Task)
	}
	c.mu.Unlock()
	if front == nil {
		return
	}
	if err := c.execute(ctx, task); err != nil {
		recordCleanupFailure()
	}
}

// RegisterJob begins tracking job under the coordinator's resource
// accounting, so checkResources sees it even before any worktree exists.
func (c *Coordinator) RegisterJob(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[jobID]; !ok {
		c.active[jobID] = nil
	}
}

// RegisterWorktree tracks handle as live under jobID.
func (c *Coordinator) RegisterWorktree(jobID string, handle *worktree.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[jobID] = append(c.active[jobID], &trackedWorktree{handle: handle, jobID: jobID, createdAt: time.Now()})
	recordActiveWorktrees(c.countActiveLocked())
}

// Enqueue adds task to the worker's queue (or, for Scheduled tasks, arranges
// for it to be added after Delay).
func (c *Coordinator) Enqueue(task Task) {
	if task.Kind == Scheduled {
		go func() {
			time.Sleep(task.Delay)
			task.Kind = Immediate
			c.mu.Lock()
			c.queue.PushBack(task)
			c.mu.Unlock()
		}()
		return
	}
	c.mu.Lock()
	c.queue.PushBack(task)
	c.mu.Unlock()
}

// CleanupJob forces immediate destruction of every worktree tracked for
// jobID, bounded by the coordinator's parallelism semaphore, and returns how
// many worktrees were tracked for jobID (failed destroys included) along
// with the first error met.
func (c *Coordinator) CleanupJob(ctx context.Context, jobID string) (int, error) {
	c.mu.Lock()
	handles := c.active[jobID]
	delete(c.active, jobID)
	c.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, tracked := range handles {
		wg.Add(1)
		go func(h *worktree.Handle) {
			defer wg.Done()
			if err := c.sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			defer c.sem.Release(1)
			if err := c.mgr.Destroy(ctx, h, true); err != nil {
				recordCleanupFailure()
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			recordCleanupSuccess()
		}(tracked.handle)
	}
	wg.Wait()

	c.mu.Lock()
	recordActiveWorktrees(c.countActiveLocked())
	c.mu.Unlock()
	return len(handles), firstErr
}

func (c *Coordinator) execute(ctx context.Context, task Task) error {
	switch task.Kind {
	case Batch:
		for _, h := range task.Handles {
			if err := c.destroyTracked(ctx, task.JobID, h, task.Force); err != nil {
				return err
			}
		}
		return nil
	default:
		return c.destroyTracked(ctx, task.JobID, task.Handle, task.Force)
	}
}

func (c *Coordinator) destroyTracked(ctx context.Context, jobID string, handle *worktree.Handle, force bool) error {
	if handle == nil {
		return nil
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	err := c.mgr.Destroy(ctx, handle, force)
	c.mu.Lock()
	c.untrackLocked(jobID, handle)
	recordActiveWorktrees(c.countActiveLocked())
	c.mu.Unlock()

	if err != nil {
		recordCleanupFailure()
		return err
	}
	recordCleanupSuccess()
	return nil
}

func (c *Coordinator) untrackLocked(jobID string, handle *worktree.Handle) {
	tracked := c.active[jobID]
	for i, t := range tracked {
		if t.handle == handle {
			c.active[jobID] = append(tracked[:i], tracked[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) countActiveLocked() int {
	total := 0
	for _, handles := range c.active {
		total += len(handles)
	}
	return total
}

// checkResources evaluates the current recommendation and, for
// EmergencyCleanup, forces the single oldest tracked worktree out regardless
// of the regular queue. Other recommendations are not acted on.
func (c *Coordinator) checkResources(ctx context.Context) {
	c.mu.Lock()
	metrics := Metrics{ActiveWorktrees: c.countActiveLocked()}
	c.monitor.Update(metrics)
	rec := c.monitor.Recommendation()
	c.mu.Unlock()

	if rec.Kind != EmergencyCleanup {
		return
	}

	c.mu.Lock()
	oldest := c.oldestLocked()
	c.mu.Unlock()
	if oldest == nil {
		return
	}
	_ = c.destroyTracked(ctx, oldest.jobID, oldest.handle, true)
}

func (c *Coordinator) oldestLocked() *trackedWorktree {
	var oldest *trackedWorktree
	for _, handles := range c.active {
		for _, t := range handles {
			if oldest == nil || t.createdAt.Before(oldest.createdAt) {
				oldest = t
			}
		}
	}
	return oldest
}
