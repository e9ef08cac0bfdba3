// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage provides the durable key-value layer for the gateway.
//
// # Description
//
// The gateway persists session records and cache fills in an embedded
// BadgerDB instance. The Store interface is the only surface the rest of
// the service sees; tests and alternative deployments can substitute their
// own implementation.
//
// Keys are namespaced by prefix: "session/" for session records and
// "embed/" for cached embedding vectors. DeleteByPrefix exists so a bulk
// external data change can invalidate a whole namespace without enumerating
// keys.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when the key is absent or expired.
var ErrKeyNotFound = errors.New("storage: key not found")

// Store is a durable key-value record store with per-entry TTL.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the cache layer issues
// overlapping reads and writes from many request goroutines.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound if the key is absent
	// or its TTL has elapsed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key. A ttl of zero stores the entry without
	// expiry; otherwise the entry becomes invisible to Get after ttl.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key with the given prefix and returns
	// the number of keys removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Scan invokes fn for each key/value pair under prefix, in key order.
	// Returning an error from fn stops the scan and propagates the error.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Close releases the underlying database. The store is unusable after.
	Close() error
}
