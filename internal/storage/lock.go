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
	"time"

	pkgerrors "github.com/cookflow/cook/pkg/errors"
	"github.com/google/uuid"
)

// Lock is the on-disk record of a held lock.
type Lock struct {
	Key        string    `json:"key"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	TTL        time.Duration `json:"ttl"`
	Token      string    `json:"token"`
}

// Expired reports whether the lock's TTL has elapsed.
func (l Lock) Expired() bool {
	return time.Now().After(l.AcquiredAt.Add(l.TTL))
}

// Guard represents a held lock. Release is idempotent.
type Guard struct {
	lock     Lock
	path     string
	released bool
}

// Info returns the lock record the guard holds.
func (g *Guard) Info() Lock { return g.lock }

// Release removes the lock file. It is a no-op if already released.
func (g *Guard) Release(ctx context.Context) error {
	if g.released {
		return nil
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return &pkgerrors.LockError{Key: g.lock.Key, Reason: "release failed", Cause: err}
	}
	g.released = true
	return nil
}

// Extend lengthens the held lock's TTL and rewrites the lock file.
func (g *Guard) Extend(ctx context.Context, additional time.Duration) error {
	g.lock.TTL += additional
	if err := writeJSONAtomic(g.path, g.lock, 0o600); err != nil {
		return &pkgerrors.LockError{Key: g.lock.Key, Reason: "extend failed", Cause: err}
	}
	return nil
}

// Valid re-reads the lock file and reports whether it still exists with the
// same token (i.e. nobody else forced it or claimed it after expiry).
func (g *Guard) Valid(ctx context.Context) (bool, error) {
	var current Lock
	found, err := readJSON(g.path, &current)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return current.Token == g.lock.Token && !current.Expired(), nil
}

// LockManager coordinates acquisition of file-backed distributed locks
// rooted at a base directory, one file per key.
type LockManager struct {
	base string
}

// NewLockManager builds a LockManager rooted at base.
func NewLockManager(base string) *LockManager {
	return &LockManager{base: base}
}

// TryAcquire attempts to claim key once. Before claiming, a stale lock
// (past acquired_at + ttl) is forcibly removed. It fails with a
// conflict-shaped *pkgerrors.LockError if a live lock is already held.
func (m *LockManager) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (*Guard, error) {
	path := lockPath(m.base, key)

	var existing Lock
	found, err := readJSON(path, &existing)
	if err != nil {
		return nil, err
	}
	if found {
		if existing.Expired() {
			_ = os.Remove(path)
		} else {
			recordConflict("locks")
			return nil, &pkgerrors.LockError{Key: key, Reason: "held by " + existing.Holder}
		}
	}

	lock := Lock{
		Key:        key,
		Holder:     holder,
		AcquiredAt: time.Now().UTC(),
		TTL:        ttl,
		Token:      uuid.NewString(),
	}
	if err := writeJSONAtomicExclusive(path, lock); err != nil {
		recordConflict("locks")
		return nil, &pkgerrors.LockError{Key: key, Reason: "conflict", Cause: err}
	}
	recordOperation("locks", "acquire")
	return &Guard{lock: lock, path: path}, nil
}

// AcquireWithRetry attempts TryAcquire up to maxAttempts times with a fixed
// delay between attempts, treating conflicts as retryable and anything else
// as a fatal error.
func (m *LockManager) AcquireWithRetry(ctx context.Context, key, holder string, ttl time.Duration, maxAttempts int, delay time.Duration) (*Guard, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		guard, err := m.TryAcquire(ctx, key, holder, ttl)
		if err == nil {
			return guard, nil
		}
		var lockErr *pkgerrors.LockError
		if !pkgerrors.As(err, &lockErr) {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// WaitForLock polls for key to become available until timeout elapses.
func (m *LockManager) WaitForLock(ctx context.Context, key, holder string, ttl, timeout time.Duration) (*Guard, error) {
	deadline := time.Now().Add(timeout)
	retryDelay := 100 * time.Millisecond

	for time.Now().Before(deadline) {
		guard, err := m.TryAcquire(ctx, key, holder, ttl)
		if err == nil {
			return guard, nil
		}
		var lockErr *pkgerrors.LockError
		if !pkgerrors.As(err, &lockErr) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, &pkgerrors.LockError{Key: key, Reason: "timed out waiting for lock"}
}

// ForceRelease removes a lock file unconditionally, for admin recovery.
func (m *LockManager) ForceRelease(ctx context.Context, key string) error {
	path := lockPath(m.base, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &pkgerrors.LockError{Key: key, Reason: "force release failed", Cause: err}
	}
	return nil
}

// Exists reports whether key currently has a live (non-expired) lock file.
func (m *LockManager) Exists(ctx context.Context, key string) (bool, error) {
	var lock Lock
	found, err := readJSON(lockPath(m.base, key), &lock)
	if err != nil || !found {
		return false, err
	}
	return !lock.Expired(), nil
}
