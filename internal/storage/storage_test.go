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

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_SaveLoadRoundtrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	session := &Session{ID: "sess-1", Repo: "acme", Status: "running"}
	require.NoError(t, store.Sessions.Save(context.Background(), session))

	loaded, err := store.Sessions.Load(context.Background(), "acme", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "running", loaded.Status)
}

func TestSessionStore_LoadMissingReturnsNil(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	loaded, err := store.Sessions.Load(context.Background(), "acme", "nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestEventStore_AppendAndTail(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 3; i++ {
		err := store.Events.Append(context.Background(), "acme", "job-1", Event{
			Type:      "step_end",
			RunID:     "run-1",
			Timestamp: time.Unix(int64(i), 0),
		})
		require.NoError(t, err)
	}

	events, err := store.Events.Tail(context.Background(), "acme", "job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestCheckpointStore_RetentionPrunesOldCheckpoints(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	store.Checkpoints.retention = 2

	for i := 0; i < 5; i++ {
		err := store.Checkpoints.Save(context.Background(), "acme", "job-1", &Checkpoint{RunID: "run-1", Iteration: i})
		require.NoError(t, err)
	}

	files, err := checkpointFiles(checkpointDir(store.Base(), "acme", "job-1"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	latest, err := store.Checkpoints.Latest(context.Background(), "acme", "job-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 4, latest.Iteration)
}

func TestDLQStore_PutListRemove(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	now := time.Now().UTC()
	item := &DLQItem{
		ItemID:        "item-1",
		RunID:         "run-1",
		OriginalInput: "items/item-1.md",
		Reason:        "exhausted retries",
		FirstFailedAt: now.Add(-time.Minute),
		LastFailedAt:  now,
		Retryable:     true,
	}
	require.NoError(t, store.DLQ.Put(context.Background(), "acme", "job-1", item))

	items, err := store.DLQ.List(context.Background(), "acme", "job-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "items/item-1.md", items[0].OriginalInput)
	assert.True(t, items[0].Retryable)
	assert.True(t, items[0].LastFailedAt.After(items[0].FirstFailedAt))

	require.NoError(t, store.DLQ.Remove(context.Background(), "acme", "job-1", "item-1"))
	items, err = store.DLQ.List(context.Background(), "acme", "job-1")
	require.NoError(t, err)
	assert.Len(t, items, 0)
}

func TestOrphanedWorktreeStore_AppendRemoveDeletesWhenEmpty(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	err = store.Orphaned.Append(context.Background(), "acme", "job-1", OrphanedWorktree{Path: "/tmp/wt-1", Reason: "remove failed"})
	require.NoError(t, err)

	records, err := store.Orphaned.List(context.Background(), "acme", "job-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, store.Orphaned.Remove(context.Background(), "acme", "job-1", "/tmp/wt-1"))
	records, err = store.Orphaned.List(context.Background(), "acme", "job-1")
	require.NoError(t, err)
	assert.Len(t, records, 0)
}

func TestOrphanedWorktreeStore_ListAllAcrossJobs(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Orphaned.Append(context.Background(), "acme", "job-1", OrphanedWorktree{Path: "/tmp/wt-1", Reason: "remove failed"}))
	require.NoError(t, store.Orphaned.Append(context.Background(), "acme", "job-2", OrphanedWorktree{Path: "/tmp/wt-2", Reason: "lock held"}))

	all, err := store.Orphaned.ListAll(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, all, 2)

	byJob := map[string]string{}
	for _, r := range all {
		byJob[r.JobID] = r.Path
	}
	assert.Equal(t, "/tmp/wt-1", byJob["job-1"])
	assert.Equal(t, "/tmp/wt-2", byJob["job-2"])
}

func TestOrphanedWorktreeStore_ListAllEmptyRepoIsNoop(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	all, err := store.Orphaned.ListAll(context.Background(), "no-such-repo")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLockManager_TryAcquireConflict(t *testing.T) {
	locks := NewLockManager(t.TempDir())

	guard, err := locks.TryAcquire(context.Background(), "key-1", "holder-a", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, guard)

	_, err = locks.TryAcquire(context.Background(), "key-1", "holder-b", time.Minute)
	require.Error(t, err)
}

func TestLockManager_ReleaseAllowsReacquire(t *testing.T) {
	locks := NewLockManager(t.TempDir())

	guard, err := locks.TryAcquire(context.Background(), "key-1", "holder-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, guard.Release(context.Background()))

	_, err = locks.TryAcquire(context.Background(), "key-1", "holder-b", time.Minute)
	require.NoError(t, err)
}

func TestLockManager_StaleLockIsForciblyRemoved(t *testing.T) {
	locks := NewLockManager(t.TempDir())

	guard, err := locks.TryAcquire(context.Background(), "key-1", "holder-a", time.Millisecond)
	require.NoError(t, err)
	_ = guard

	time.Sleep(5 * time.Millisecond)

	_, err = locks.TryAcquire(context.Background(), "key-1", "holder-b", time.Minute)
	require.NoError(t, err)
}

func TestLockManager_AcquireWithRetrySucceedsAfterRelease(t *testing.T) {
	locks := NewLockManager(t.TempDir())
	guard, err := locks.TryAcquire(context.Background(), "key-1", "holder-a", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = guard.Release(context.Background())
	}()

	second, err := locks.AcquireWithRetry(context.Background(), "key-1", "holder-b", time.Minute, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, second)
}
