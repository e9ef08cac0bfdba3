// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package admission

import (
	"sync"
)

// SessionLock is the per-conversation exclusive-execution guard.
//
// # Description
//
// At most one request may be generating a response for a given session id
// at any instant. Acquisition is a single non-blocking attempt: a second
// caller for a held id fails immediately rather than queueing, because the
// guard exists to reject accidental parallel submits for one conversation,
// not to serialize legitimate sequential turns.
//
// # Limitations
//
// Process-local. In a multi-instance deployment two processes could each
// admit a turn for the same session; replace the set with a store-backed
// lease (same fail-fast semantics, keyed by session id) before scaling
// horizontally.
//
// # Thread Safety
//
// Safe for concurrent use.
type SessionLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewSessionLock creates an empty lock set.
func NewSessionLock() *SessionLock {
	return &SessionLock{held: make(map[string]struct{})}
}

// TryAcquire attempts to take the lock for id. Returns true when acquired,
// false when another request already holds it. Never blocks.
func (l *SessionLock) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[id]; taken {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Release frees the lock for id. Releasing an id that is not held is a
// no-op: cleanup paths may run twice and must be tolerated, not treated as
// fatal.
func (l *SessionLock) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// Held reports whether id is currently locked. Intended for tests and
// introspection endpoints, not for check-then-act callers.
func (l *SessionLock) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[id]
	return taken
}
