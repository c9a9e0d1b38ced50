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
	"os"
)

// Store is the single entry point over the five logical stores and the
// lock manager, all rooted at one base directory.
type Store struct {
	Locks       *LockManager
	Sessions    *SessionStore
	Events      *EventStore
	Checkpoints *CheckpointStore
	DLQ         *DLQStore
	Orphaned    *OrphanedWorktreeStore

	base string
}

// Open builds a Store rooted at base, creating the directory if necessary.
func Open(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, err
	}
	locks := NewLockManager(base)
	return &Store{
		base:        base,
		Locks:       locks,
		Sessions:    NewSessionStore(base, locks),
		Events:      NewEventStore(base),
		Checkpoints: NewCheckpointStore(base),
		DLQ:         NewDLQStore(base),
		Orphaned:    NewOrphanedWorktreeStore(base),
	}, nil
}

// Close releases any resources held open by sub-stores (open event
// segments).
func (s *Store) Close() error {
	return s.Events.Close()
}

// HealthCheck reports on every sub-store, returning the first error found.
func (s *Store) HealthCheck() error {
	for _, check := range []func() error{
		s.Sessions.HealthCheck,
		s.Events.HealthCheck,
		s.Checkpoints.HealthCheck,
		s.DLQ.HealthCheck,
		s.Orphaned.HealthCheck,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// Base returns the store's root directory.
func (s *Store) Base() string { return s.base }
