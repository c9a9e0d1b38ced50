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
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DLQItem is a single MapReduce work item that exhausted its retries.
type DLQItem struct {
	ItemID   string `json:"item_id"`
	RunID    string `json:"run_id"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	// OriginalInput is the item descriptor the map phase dispatched (the
	// file path or list entry), preserved so a retry can be re-enqueued
	// without re-enumerating the map's input.
	OriginalInput string `json:"original_input"`
	LastError     string `json:"last_error"`
	// FirstFailedAt is when the item's first attempt failed; LastFailedAt is
	// when the attempt that exhausted max_attempts failed. They're equal for
	// an item that only ever ran once.
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
	// Retryable mirrors the terminal attempt's command.Status.Retryable: a
	// security violation or validation failure won't succeed on replay, so
	// `cook dlq retry` can skip it without spending an attempt.
	Retryable bool `json:"retryable"`
}

// DLQStore persists one file per failed item, removed on successful retry.
type DLQStore struct {
	base string
}

// NewDLQStore builds a DLQStore rooted at base.
func NewDLQStore(base string) *DLQStore {
	return &DLQStore{base: base}
}

// Put writes or overwrites the DLQ record for an item.
func (s *DLQStore) Put(ctx context.Context, repo, jobID string, item *DLQItem) error {
	path := filepath.Join(dlqDir(s.base, repo, jobID), item.ItemID+".json")
	if err := writeJSONAtomic(path, item, 0o600); err != nil {
		return err
	}
	recordOperation("dlq", "put")
	return nil
}

// Remove deletes the DLQ record for an item, typically after a successful
// retry. It is a no-op if no record exists.
func (s *DLQStore) Remove(ctx context.Context, repo, jobID, itemID string) error {
	path := filepath.Join(dlqDir(s.base, repo, jobID), itemID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	recordOperation("dlq", "remove")
	return nil
}

// List returns every DLQ record for a job.
func (s *DLQStore) List(ctx context.Context, repo, jobID string) ([]*DLQItem, error) {
	dir := dlqDir(s.base, repo, jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var items []*DLQItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var item DLQItem
		found, err := readJSON(filepath.Join(dir, entry.Name()), &item)
		if err != nil || !found {
			continue
		}
		items = append(items, &item)
	}
	recordOperation("dlq", "list")
	return items, nil
}

// HealthCheck reports whether the dlq directory exists and is writable.
func (s *DLQStore) HealthCheck() error {
	return healthCheck(filepath.Join(s.base, "dlq"))
}
