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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// Event is one append-only record in a job's event log.
type Event struct {
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	ItemID    string         `json:"item_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// DefaultEventRotationBytes is the size threshold past which a new segment
// file is started.
const DefaultEventRotationBytes = 10 * 1024 * 1024

// EventStore appends Events to size-rotated JSONL segments under
// events/<repo>/<job_id>/events-NNN.jsonl. Segments are never mutated once
// written except for appends to the currently open one.
type EventStore struct {
	mu             sync.Mutex
	base           string
	rotationBytes  int64
	openSegments   map[string]*segmentHandle
}

type segmentHandle struct {
	file *os.File
	seq  int
	size int64
}

// NewEventStore builds an EventStore rooted at base.
func NewEventStore(base string) *EventStore {
	return &EventStore{
		base:          base,
		rotationBytes: DefaultEventRotationBytes,
		openSegments:  make(map[string]*segmentHandle),
	}
}

// Append writes event as one JSON line to the job's current segment,
// rotating to a new segment if the current one has grown past the
// rotation threshold.
func (s *EventStore) Append(ctx context.Context, repo, jobID string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := repo + "/" + jobID
	handle, err := s.segmentFor(key, repo, jobID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return &pkgerrors.SerializationError{Resource: key, Cause: err}
	}
	data = append(data, '\n')

	n, err := handle.file.Write(data)
	if err != nil {
		return pkgerrors.Wrapf(err, "appending event to %s", key)
	}
	if err := handle.file.Sync(); err != nil {
		return pkgerrors.Wrapf(err, "flushing event segment for %s", key)
	}
	handle.size += int64(n)
	recordOperation("events", "append")
	recordBytes("events", n)

	if handle.size >= s.rotationBytes {
		handle.file.Close()
		delete(s.openSegments, key)
	}
	return nil
}

// segmentFor returns the open segment handle for key, opening (or rotating
// to) the next segment number if none is open.
func (s *EventStore) segmentFor(key, repo, jobID string) (*segmentHandle, error) {
	if h, ok := s.openSegments[key]; ok {
		return h, nil
	}

	dir := eventsDir(s.base, repo, jobID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, pkgerrors.Wrapf(err, "creating events dir %s", dir)
	}
	next := nextSegmentSeq(dir)
	path := filepath.Join(dir, fmt.Sprintf("events-%03d.jsonl", next))
	if info, err := os.Stat(path); err == nil && info.Size() >= s.rotationBytes {
		next++
		path = filepath.Join(dir, fmt.Sprintf("events-%03d.jsonl", next))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "opening segment %s", path)
	}
	info, _ := f.Stat()
	var size int64
	if info != nil {
		size = info.Size()
	}
	handle := &segmentHandle{file: f, seq: next, size: size}
	s.openSegments[key] = handle
	return handle, nil
}

func nextSegmentSeq(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	max := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "events-"), ".jsonl")
		if n, err := strconv.Atoi(numStr); err == nil && n > max {
			max = n
		}
	}
	if max == 0 {
		return 1
	}
	// The highest existing segment is the one to resume appending to;
	// segmentFor moves on to the next number when that segment has already
	// reached the rotation threshold.
	return max
}

// Tail reads every event for a job across all of its segments, in order.
func (s *EventStore) Tail(ctx context.Context, repo, jobID string) ([]Event, error) {
	dir := eventsDir(s.base, repo, jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "events-") && strings.HasSuffix(entry.Name(), ".jsonl") {
			segments = append(segments, entry.Name())
		}
	}
	sort.Strings(segments)

	var events []Event
	for _, name := range segments {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var event Event
			if err := json.Unmarshal(scanner.Bytes(), &event); err == nil {
				events = append(events, event)
			}
		}
		f.Close()
	}
	recordOperation("events", "tail")
	return events, nil
}

// Close flushes and closes every open segment handle.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, h := range s.openSegments {
		h.file.Close()
		delete(s.openSegments, key)
	}
	return nil
}

// HealthCheck reports whether the events directory exists and is writable.
func (s *EventStore) HealthCheck() error {
	return healthCheck(filepath.Join(s.base, "events"))
}
