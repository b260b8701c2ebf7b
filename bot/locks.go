// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"sync"

	"github.com/verji/vagent/lib/session"
)

// sessionLocks serializes message handling per session while letting
// distinct sessions proceed in parallel. Entries are reference
// counted and removed as soon as the last holder releases, so the
// table never outgrows the number of in-flight requests and needs no
// background sweep.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session's lock is held. The returned
// release function must be called exactly once.
func (table *sessionLocks) acquire(id session.ID) (release func()) {
	key := id.Canonical()

	table.mu.Lock()
	lock, ok := table.locks[key]
	if !ok {
		lock = &sessionLock{}
		table.locks[key] = lock
	}
	lock.refs++
	table.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		table.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(table.locks, key)
		}
		table.mu.Unlock()
	}
}

// inFlight reports the number of sessions currently holding or
// waiting on a lock.
func (table *sessionLocks) inFlight() int {
	table.mu.Lock()
	defer table.mu.Unlock()
	return len(table.locks)
}
