// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/laurelhq/ai-service/services/gateway/datatypes"
)

// SessionKeyPrefix namespaces session records in the store.
const SessionKeyPrefix = "session/"

// ErrSessionNotFound is returned when no durable record exists for an id.
var ErrSessionNotFound = errors.New("storage: session not found")

// SessionKey returns the store key for a session id.
func SessionKey(id string) string {
	return SessionKeyPrefix + id
}

// SessionStore persists session records as JSON in the durable store.
//
// # Description
//
// SessionStore is the authoritative home of a session; any cache entry
// derived from it is a disposable projection. The store itself carries no
// entry TTL for sessions — expiry is an attribute of the record
// (ExpiresAt) enforced on load and by the periodic sweeper, so an expired
// record remains inspectable by the sweeper until it is deleted.
//
// # Thread Safety
//
// Safe for concurrent use. Callers serialize writers per session id via the
// session lock; the store itself does not.
type SessionStore struct {
	store Store
}

// NewSessionStore creates a SessionStore over the given durable store.
func NewSessionStore(store Store) *SessionStore {
	return &SessionStore{store: store}
}

// Load reads the session record for id.
//
// Returns ErrSessionNotFound when no record exists or the record is past
// its expiry; an expired record is indistinguishable from an absent one
// for readers.
func (s *SessionStore) Load(ctx context.Context, id string) (*datatypes.Session, error) {
	raw, err := s.store.Get(ctx, SessionKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	session, err := decodeSession(raw)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now().UTC()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Save writes the session record.
func (s *SessionStore) Save(ctx context.Context, session *datatypes.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("storage: encode session %s: %w", session.ID, err)
	}
	return s.store.Put(ctx, SessionKey(session.ID), raw, 0)
}

// Delete removes the session record. Absent records are a no-op.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, SessionKey(id))
}

// ScanAll invokes fn for every stored session record, including expired
// ones. Used by the expiry sweeper.
func (s *SessionStore) ScanAll(ctx context.Context, fn func(session *datatypes.Session) error) error {
	return s.store.Scan(ctx, SessionKeyPrefix, func(key string, value []byte) error {
		session, err := decodeSession(value)
		if err != nil {
			// A corrupt record must not halt a sweep over healthy ones.
			slog.Warn("storage: skipping undecodable session record", "key", key, "error", err)
			return nil
		}
		return fn(session)
	})
}

func decodeSession(raw []byte) (*datatypes.Session, error) {
	var session datatypes.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("storage: decode session: %w", err)
	}
	return &session, nil
}
