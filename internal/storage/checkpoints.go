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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Checkpoint is a resumable snapshot of in-flight workflow state.
type Checkpoint struct {
	Seq         int64          `json:"seq"`
	RunID       string         `json:"run_id"`
	Mode        string         `json:"mode"`
	Iteration   int            `json:"iteration"`
	StepIndex   int            `json:"step_index"`
	Scope       map[string]any `json:"scope"`
	MapProgress *MapProgress   `json:"map_progress,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// MapProgress is the resumable state of a MapReduce run's map phase: how
// many items have been admitted, and which ones have already finished
// (successfully or by landing in the DLQ) so a resumed run doesn't
// re-dispatch them.
type MapProgress struct {
	Total           int      `json:"total"`
	Completed       int      `json:"completed"`
	Failed          int      `json:"failed"`
	CompletedItems  []string `json:"completed_items"`
}

// DefaultCheckpointRetention is how many of the most recent checkpoints are
// kept per job; older ones are pruned on every Save.
const DefaultCheckpointRetention = 5

// CheckpointStore persists sequence-numbered checkpoints with bounded
// retention, each written atomically.
type CheckpointStore struct {
	base      string
	retention int
}

// NewCheckpointStore builds a CheckpointStore rooted at base, keeping the
// default retention count.
func NewCheckpointStore(base string) *CheckpointStore {
	return &CheckpointStore{base: base, retention: DefaultCheckpointRetention}
}

// Save writes checkpoint atomically, assigning it the next sequence number
// for the job, then prunes all but the most recent N checkpoints.
func (s *CheckpointStore) Save(ctx context.Context, repo, jobID string, checkpoint *Checkpoint) error {
	dir := checkpointDir(s.base, repo, jobID)
	seq, err := nextCheckpointSeq(dir)
	if err != nil {
		return err
	}
	checkpoint.Seq = seq
	checkpoint.CompletedAt = time.Now().UTC()

	path := filepath.Join(dir, fmt.Sprintf("checkpoint-%06d.json", seq))
	if err := writeJSONAtomic(path, checkpoint, 0o600); err != nil {
		return err
	}
	recordOperation("checkpoints", "save")
	return s.prune(dir)
}

// Latest returns the highest-sequence checkpoint for a job, or nil if none
// exist.
func (s *CheckpointStore) Latest(ctx context.Context, repo, jobID string) (*Checkpoint, error) {
	dir := checkpointDir(s.base, repo, jobID)
	files, err := checkpointFiles(dir)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	var checkpoint Checkpoint
	found, err := readJSON(filepath.Join(dir, files[len(files)-1]), &checkpoint)
	if err != nil || !found {
		return nil, err
	}
	recordOperation("checkpoints", "load")
	return &checkpoint, nil
}

// prune removes all but the s.retention most recent checkpoint files.
func (s *CheckpointStore) prune(dir string) error {
	files, err := checkpointFiles(dir)
	if err != nil {
		return err
	}
	if len(files) <= s.retention {
		return nil
	}
	for _, name := range files[:len(files)-s.retention] {
		_ = os.Remove(filepath.Join(dir, name))
	}
	return nil
}

func checkpointFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "checkpoint-") && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func nextCheckpointSeq(dir string) (int64, error) {
	files, err := checkpointFiles(dir)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 1, nil
	}
	last := files[len(files)-1]
	numStr := strings.TrimSuffix(strings.TrimPrefix(last, "checkpoint-"), ".json")
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return int64(len(files)) + 1, nil
	}
	return n + 1, nil
}

// HealthCheck reports whether the checkpoint state directory exists and is
// writable.
func (s *CheckpointStore) HealthCheck() error {
	return healthCheck(filepath.Join(s.base, "state"))
}
