// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package admission gates entry into the gateway's limited upstream capacity.
//
// # Description
//
// Two guards live here. The Controller bounds how much concurrent LLM work
// the whole process may have in flight, queueing excess callers FIFO for a
// bounded wait. The SessionLock fences a single conversation so that only
// one response is ever generated per session at a time.
//
// Both produce the expected Busy outcome rather than errors: a rejected
// caller is told to retry, never handed a 5xx.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/laurelhq/ai-service/services/gateway/observability"
)

// ErrBusy is returned by Acquire when capacity was not granted within the
// caller's bounded wait. This is an expected outcome, not a failure.
var ErrBusy = errors.New("admission: capacity wait timed out")

// =============================================================================
// Controller
// =============================================================================

// Controller is the global bounded-concurrency gate.
//
// # Description
//
// Capacity is a fixed number of slots C. Callers beyond C queue in FIFO
// order (semaphore.Weighted wakes waiters in arrival order); a caller whose
// wait exceeds maxWait is rejected with ErrBusy instead of being served
// late, which caps tail latency rather than building unbounded backlog.
//
// # Thread Safety
//
// Safe for concurrent use. The in-flight counter is maintained atomically.
type Controller struct {
	sem      *semaphore.Weighted
	capacity int64
	maxWait  time.Duration
	inFlight atomic.Int64
}

// NewController creates a Controller with the given capacity and maximum
// queue wait. A capacity below one is raised to one.
func NewController(capacity int64, maxWait time.Duration) *Controller {
	if capacity < 1 {
		slog.Warn("admission: capacity below one, using 1", "requested", capacity)
		capacity = 1
	}
	return &Controller{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
		maxWait:  maxWait,
	}
}

// Acquire obtains one admission slot, waiting up to the configured maximum.
//
// # Description
//
// Returns a Slot whose Release is idempotent: cleanup paths may legitimately
// run twice (completion racing a disconnect) and must not double-count
// capacity. The observed wait time is recorded for monitoring whether
// granted or rejected.
//
// # Inputs
//
//   - ctx: Request context. Cancellation during the wait aborts the attempt
//     and returns the context error.
//
// # Outputs
//
//   - *Slot: The granted slot. Nil when an error is returned.
//   - error: ErrBusy when the bounded wait elapsed; ctx.Err() when the
//     caller went away first.
func (c *Controller) Acquire(ctx context.Context) (*Slot, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	err := c.sem.Acquire(waitCtx, 1)
	waited := time.Since(start)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordAdmissionWait(waited.Seconds(), err == nil)
	}
	if err != nil {
		// Distinguish "the queue was full too long" from "the caller left".
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrBusy
	}

	c.inFlight.Add(1)
	return &Slot{controller: c}, nil
}

// InFlight returns the number of slots currently held.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// Capacity returns the configured capacity bound.
func (c *Controller) Capacity() int64 {
	return c.capacity
}

// Slot is one granted unit of admission capacity.
type Slot struct {
	controller *Controller
	released   atomic.Bool
}

// Release returns the slot to the pool. Safe to call more than once; only
// the first call returns capacity.
func (s *Slot) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.controller.inFlight.Add(-1)
	s.controller.sem.Release(1)
}
