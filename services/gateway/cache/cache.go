// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides a read-coalescing in-memory cache in front of the
// durable store.
//
// # Description
//
// Lookups take three steps: the in-memory map, then a coalesced read of the
// durable store, then the caller's loader (if any). Concurrent misses on
// the same key collapse into a single store read via singleflight, so a
// burst of identical requests costs one backend round trip. Writes go to
// the durable store first and only populate the memory layer once the
// store accepts them, so the memory layer never serves a value the store
// could lose.
//
// # Thread Safety
//
// All operations are safe for concurrent use.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/laurelhq/ai-service/services/gateway/observability"
	"github.com/laurelhq/ai-service/services/gateway/storage"
)

// ErrNotFound is returned when a key is in neither the memory layer nor
// the durable store.
var ErrNotFound = errors.New("cache: key not found")

// Flight keys are namespaced per entry point. A plain Get miss must not
// satisfy a concurrent GetOrLoad for the same key: GetOrLoad's loader has
// to run when the store misses, and joining a Get flight would hand it the
// store miss instead.
const (
	flightGet  = "get\x00"
	flightLoad = "load\x00"
)

// entry is one cached value. Immutable after insertion; expiry and access
// tracking live alongside the value.
type entry struct {
	value       []byte
	cachedAt    time.Time
	expiresAt   time.Time // zero means no expiry
	accessCount atomic.Int64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Options controls cache behavior.
type Options struct {
	// DefaultTTL is applied to entries cached without an explicit TTL.
	// Zero means entries do not expire from the memory layer.
	DefaultTTL time.Duration

	// JanitorInterval is how often expired entries are removed from the
	// memory layer. Zero disables the janitor; expired entries then only
	// leave on lookup or invalidation.
	JanitorInterval time.Duration
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		DefaultTTL:      15 * time.Minute,
		JanitorInterval: time.Minute,
	}
}

// CoalescingCache layers an in-memory map over a durable store with
// singleflight read coalescing.
type CoalescingCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	flight  singleflight.Group
	store   storage.Store
	opts    Options

	// now is injected for tests.
	now func() time.Time

	janitorDone chan struct{}
	janitorWG   sync.WaitGroup
	closeOnce   sync.Once

	// Stats
	hits      atomic.Int64
	misses    atomic.Int64
	coalesced atomic.Int64
}

// New creates a CoalescingCache over the given durable store and starts
// the janitor if configured. Call Close to stop it.
func New(store storage.Store, opts Options) *CoalescingCache {
	c := &CoalescingCache{
		entries:     make(map[string]*entry),
		store:       store,
		opts:        opts,
		now:         time.Now,
		janitorDone: make(chan struct{}),
	}
	if opts.JanitorInterval > 0 {
		c.janitorWG.Add(1)
		go c.runJanitor()
	}
	return c
}

// Get returns the value for key.
//
// # Description
//
// Checks the memory layer first; an expired entry counts as a miss and is
// dropped. On a miss, concurrent callers for the same key share a single
// durable-store read. A value found in the store is re-cached in memory
// with the default TTL. Returns ErrNotFound when the key is in neither
// layer.
func (c *CoalescingCache) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		observability.DefaultMetrics.RecordCacheOp("get", "hit")
		return v, nil
	}
	c.misses.Add(1)

	v, err, shared := c.flight.Do(flightGet+key, func() (any, error) {
		val, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		c.insert(key, val, c.opts.DefaultTTL)
		return val, nil
	})
	if shared {
		c.coalesced.Add(1)
		observability.DefaultMetrics.RecordCacheOp("get", "coalesced")
	}
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			observability.DefaultMetrics.RecordCacheOp("get", "miss")
			return nil, ErrNotFound
		}
		observability.DefaultMetrics.RecordCacheOp("get", "error")
		return nil, err
	}
	observability.DefaultMetrics.RecordCacheOp("get", "miss")
	return v.([]byte), nil
}

// GetOrLoad is Get with a loader for keys absent from both layers.
//
// The loader runs inside the same singleflight slot as the store read, so
// concurrent callers share one load. The loaded value is written through
// (store first, then memory) before being returned.
func (c *CoalescingCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		observability.DefaultMetrics.RecordCacheOp("get", "hit")
		return v, nil
	}
	c.misses.Add(1)

	v, err, shared := c.flight.Do(flightLoad+key, func() (any, error) {
		val, err := c.store.Get(ctx, key)
		if err == nil {
			c.insert(key, val, ttl)
			return val, nil
		}
		if !errors.Is(err, storage.ErrKeyNotFound) {
			return nil, err
		}
		val, err = load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.put(ctx, key, val, ttl); err != nil {
			// The value is still good for this caller even if the
			// write-through failed.
			slog.Warn("cache: write-through after load failed",
				"key", key,
				"error", err)
		}
		return val, nil
	})
	if shared {
		c.coalesced.Add(1)
		observability.DefaultMetrics.RecordCacheOp("get", "coalesced")
	}
	if err != nil {
		observability.DefaultMetrics.RecordCacheOp("get", "error")
		return nil, err
	}
	return v.([]byte), nil
}

// Set writes key through to the durable store and then the memory layer.
//
// If the store write fails the memory layer is left untouched and the
// error is returned, so readers never see a value the store rejected.
func (c *CoalescingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.put(ctx, key, value, ttl); err != nil {
		observability.DefaultMetrics.RecordCacheOp("set", "error")
		return err
	}
	observability.DefaultMetrics.RecordCacheOp("set", "ok")
	return nil
}

// Prime inserts a value into the memory layer only.
//
// For records the caller has already persisted through another write path
// (for example session saves, which carry expiry as a record attribute
// instead of a store TTL). Keeps the store-first ordering: callers prime
// only after their durable write succeeded.
func (c *CoalescingCache) Prime(key string, value []byte, ttl time.Duration) {
	c.insert(key, value, ttl)
	observability.DefaultMetrics.RecordCacheOp("set", "ok")
}

// Invalidate removes key from both layers. Missing keys are not an error.
func (c *CoalescingCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		observability.DefaultMetrics.RecordCacheOp("invalidate", "error")
		return err
	}
	observability.DefaultMetrics.RecordCacheOp("invalidate", "ok")
	return nil
}

// InvalidatePrefix removes every key with the given prefix from both
// layers and returns the number of durable records deleted.
func (c *CoalescingCache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	n, err := c.store.DeleteByPrefix(ctx, prefix)
	if err != nil {
		observability.DefaultMetrics.RecordCacheOp("invalidate", "error")
		return n, err
	}
	observability.DefaultMetrics.RecordCacheOp("invalidate", "ok")
	return n, nil
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Coalesced int64 `json:"coalesced"`
	Entries   int   `json:"entries"`
}

// Stats returns current counters.
func (c *CoalescingCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
		Entries:   n,
	}
}

// Close stops the janitor. Safe to call more than once. The durable store
// is owned by the caller and is not closed here.
func (c *CoalescingCache) Close() {
	c.closeOnce.Do(func() {
		close(c.janitorDone)
		c.janitorWG.Wait()
	})
}

// lookup checks the memory layer. Expired entries are removed and treated
// as misses.
func (c *CoalescingCache) lookup(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry.
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	e.accessCount.Add(1)
	return e.value, true
}

// put writes through: durable store first, memory second.
func (c *CoalescingCache) put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	if err := c.store.Put(ctx, key, value, ttl); err != nil {
		return err
	}
	c.insert(key, value, ttl)
	return nil
}

// insert places a value in the memory layer only.
func (c *CoalescingCache) insert(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	now := c.now()
	e := &entry{value: value, cachedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// runJanitor periodically drops expired entries from the memory layer.
func (c *CoalescingCache) runJanitor() {
	defer c.janitorWG.Done()
	ticker := time.NewTicker(c.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.janitorDone:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
