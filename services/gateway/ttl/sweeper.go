// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ttl removes expired session records on a schedule.
//
// # Description
//
// Session expiry is an attribute of the record, not of the storage layer:
// an expired record read before the sweep reaches it is already treated
// as absent by the session store. The sweeper reclaims the space and
// keeps scans cheap. Uses the ticker + done channel pattern for graceful
// shutdown.
package ttl

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/gateway/observability"
	"github.com/laurelhq/ai-service/services/gateway/storage"
)

// SweeperConfig controls the session sweep.
type SweeperConfig struct {
	// Interval between sweep cycles.
	Interval time.Duration
	// Timeout bounds one cycle.
	Timeout time.Duration
}

// DefaultSweeperConfig returns production settings.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 5 * time.Minute,
		Timeout:  time.Minute,
	}
}

// SweepResult summarizes one cycle.
type SweepResult struct {
	Scanned int
	Removed int
	Errors  int
}

// Sweeper deletes expired session records and drops their cached copies.
//
// # Thread Safety
//
// Start, Stop, and RunNow are safe for concurrent use.
type Sweeper struct {
	sessions *storage.SessionStore
	cache    *cache.CoalescingCache
	config   SweeperConfig

	// now is injected for tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper wires the sweeper. cache may be nil.
func NewSweeper(sessions *storage.SessionStore, c *cache.CoalescingCache, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSweeperConfig().Timeout
	}
	return &Sweeper{
		sessions: sessions,
		cache:    c,
		config:   config,
		now:      time.Now,
	}
}

// Start launches the sweep loop. Returns an error if already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("ttl: sweeper already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.runLoop(ctx)
	slog.Info("ttl: sweeper started", "interval", s.config.Interval)
	return nil
}

// Stop halts the loop and waits for an in-progress cycle to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
	slog.Info("ttl: sweeper stopped")
}

// RunNow executes one sweep cycle immediately, outside the schedule.
func (s *Sweeper) RunNow(ctx context.Context) (SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	return s.sweep(ctx)
}

func (s *Sweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
			result, err := s.sweep(cycleCtx)
			cancel()
			if err != nil {
				slog.Error("ttl: sweep cycle failed", "error", err)
				continue
			}
			if result.Removed > 0 || result.Errors > 0 {
				slog.Info("ttl: sweep cycle complete",
					"scanned", result.Scanned,
					"removed", result.Removed,
					"errors", result.Errors)
			}
		}
	}
}

// sweep scans all session records and removes the expired ones. Records
// that fail to delete are counted and left for the next cycle.
func (s *Sweeper) sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var result SweepResult
	var expired []string

	err := s.sessions.ScanAll(ctx, func(sess *datatypes.Session) error {
		result.Scanned++
		if sess.Expired(now) {
			expired = append(expired, sess.ID)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	for _, id := range expired {
		if err := s.sessions.Delete(ctx, id); err != nil {
			slog.Warn("ttl: failed to delete expired session", "session_id", id, "error", err)
			result.Errors++
			continue
		}
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, storage.SessionKey(id)); err != nil {
				slog.Warn("ttl: failed to invalidate cached session", "session_id", id, "error", err)
			}
		}
		result.Removed++
	}
	observability.DefaultMetrics.RecordSessionsSwept(result.Removed)
	return result, nil
}
