// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the BadgerDB-backed store.
//
// # Fields
//
//   - Path: Directory for database files. Required unless InMemory is set.
//   - InMemory: Run without disk persistence. Used by tests.
//   - SyncWrites: Synchronous writes for durability. Default true in
//     production configs, false in test configs.
//   - GCInterval: How often to run value-log garbage collection.
//     Zero disables GC.
//   - GCDiscardRatio: Minimum garbage ratio before a GC pass rewrites a
//     value-log file.
type Config struct {
	Path           string
	InMemory       bool
	SyncWrites     bool
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes and a
// five-minute GC cadence.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore implements Store on an embedded BadgerDB instance.
//
// # Description
//
// TTL handling is delegated to Badger: Put sets an entry expiry and Badger
// treats expired entries as absent on read, so a lookup past expiry is a
// miss without any sweeping here. The session sweeper (services/gateway/ttl)
// handles record-level expiry, which is an attribute of the session payload
// rather than of the storage entry.
//
// # Thread Safety
//
// Safe for concurrent use; Badger transactions provide isolation.
type BadgerStore struct {
	db        *badger.DB
	gcDone    chan struct{}
	closeOnce sync.Once
}

var _ Store = (*BadgerStore)(nil)

// Open opens (creating if necessary) a BadgerStore with the given config.
//
// # Description
//
// Creates the data directory when missing, opens the database, and starts
// the GC goroutine when GCInterval is non-zero. Badger's own chatter is
// routed through slog at debug level.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is set.
//
// # Outputs
//
//   - *BadgerStore: Ready for use. Caller must Close.
//   - error: Non-nil if the directory or database could not be opened.
func Open(cfg Config) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage: path is required for persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("storage: create data dir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(filepath.Clean(cfg.Path))
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: slog.Default()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		gcDone: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Get returns the value for key, or ErrKeyNotFound when absent or expired.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return out, nil
}

// Put writes value under key with an optional TTL.
func (s *BadgerStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Delete removes key; absent keys are a no-op.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix removes all keys under prefix and returns the count.
//
// Keys are collected in a read pass first; deletes are then batched so a
// large namespace does not exceed a single transaction's size limit.
func (s *BadgerStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys := make([][]byte, 0, 64)
	err := s.Scan(ctx, prefix, func(key string, _ []byte) error {
		keys = append(keys, []byte(key))
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("storage: batch delete %s: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("storage: flush prefix delete %s: %w", prefix, err)
	}
	return len(keys), nil
}

// Scan invokes fn for each key/value pair under prefix, in key order.
func (s *BadgerStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("storage: scan read %s: %w", item.Key(), err)
			}
			if err := fn(string(item.Key()), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.gcDone)
		err = s.db.Close()
	})
	return err
}

// runGC periodically reclaims value-log space. Badger returns ErrNoRewrite
// when there is nothing to collect; that is the common case and is not
// logged.
func (s *BadgerStore) runGC(interval time.Duration, discardRatio float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcDone:
			return
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(discardRatio)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						slog.Warn("storage: value log GC failed", "error", err)
					}
					break
				}
			}
		}
	}
}
