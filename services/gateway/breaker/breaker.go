// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package breaker implements a circuit breaker for upstream calls.
//
// # Description
//
// Wraps calls to failure-prone dependencies (LLM providers, vector search,
// external fetches) and stops issuing them after a run of consecutive
// failures. While open, calls fail fast or take a configured fallback
// instead of tying up a capacity slot waiting on a dead upstream. After a
// reset timeout a single probe call is let through; its outcome decides
// whether the circuit closes again or re-opens.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/laurelhq/ai-service/services/gateway/observability"
)

// State is the circuit's current position.
type State int

const (
	// StateClosed lets all calls through.
	StateClosed State = iota
	// StateOpen rejects all calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets exactly one probe call through.
	StateHalfOpen
)

// String returns the state name for logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrOpen is returned when a call is rejected because the circuit is open
// (or a half-open probe is already in flight) and no fallback is configured.
var ErrOpen = errors.New("breaker: circuit open")

// Config controls a Breaker's trip and recovery behavior.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the circuit. Values < 1 are raised to 1.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open probe.
	ResetTimeout time.Duration
}

// Breaker guards calls returning a value of type T.
type Breaker[T any] struct {
	name      string
	threshold int
	reset     time.Duration

	// fallback is invoked instead of failing fast while the circuit is
	// open. Optional.
	fallback func(ctx context.Context) (T, error)

	// now is injected for tests.
	now func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// New creates a closed Breaker with the given config.
func New[T any](cfg Config) *Breaker[T] {
	if cfg.FailureThreshold < 1 {
		slog.Warn("breaker: invalid failure threshold, using 1",
			"breaker", cfg.Name,
			"threshold", cfg.FailureThreshold)
		cfg.FailureThreshold = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker[T]{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		reset:     cfg.ResetTimeout,
		now:       time.Now,
	}
}

// WithFallback sets a function invoked in place of ErrOpen when the circuit
// rejects a call. Returns the breaker for chaining.
func (b *Breaker[T]) WithFallback(fn func(ctx context.Context) (T, error)) *Breaker[T] {
	b.fallback = fn
	return b
}

// Fire runs op through the circuit.
//
// # Description
//
// Closed: op runs; an error increments the consecutive-failure count and
// trips the circuit at the threshold; success resets the count.
//
// Open: if the reset timeout has elapsed the call becomes the half-open
// probe; otherwise the fallback runs (or ErrOpen is returned).
//
// Half-open: only the single probe is in flight; concurrent calls are
// rejected the same way as open. A successful probe closes the circuit,
// a failed one re-opens it and restarts the reset timer.
//
// Context cancellation from op is counted as a failure only if the
// breaker's own caller is still live; a caller that walked away mid-call
// says nothing about upstream health.
func (b *Breaker[T]) Fire(ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	probe, allowed := b.admit()
	if !allowed {
		var zero T
		if b.fallback != nil {
			b.record("fallback")
			return b.fallback(ctx)
		}
		b.record("short_circuit")
		return zero, ErrOpen
	}

	result, err := op(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Caller abandoned the call. Not evidence of upstream failure.
		b.abandon(probe)
		return result, err
	}
	if err != nil {
		b.settle(probe, false)
		b.record("failure")
		return result, err
	}
	b.settle(probe, true)
	b.record("success")
	return result, nil
}

// State returns the circuit's current position, accounting for an elapsed
// reset timeout.
func (b *Breaker[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.reset {
		return StateHalfOpen
	}
	return b.state
}

// admit decides whether a call may proceed. The bool result is whether the
// call is allowed; probe marks it as the half-open probe whose outcome
// drives the next transition.
func (b *Breaker[T]) admit() (probe, allowed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.reset {
			return false, false
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return true, true
	case StateHalfOpen:
		if b.probeInFlight {
			return false, false
		}
		b.probeInFlight = true
		return true, true
	default:
		return false, false
	}
}

// settle applies a finished call's outcome to the circuit.
func (b *Breaker[T]) settle(probe, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
		if success {
			b.failures = 0
			b.transition(StateClosed)
		} else {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	if b.state != StateClosed {
		// A pre-trip call finished after the circuit moved on. Its
		// outcome no longer changes the state machine.
		return
	}
	if success {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// abandon releases a call that ended by caller cancellation. A probe slot
// is freed so the next caller can re-probe; nothing else changes.
func (b *Breaker[T]) abandon(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

// transition moves to a new state and emits the log/metric. Callers hold mu.
func (b *Breaker[T]) transition(next State) {
	if b.state == next {
		return
	}
	slog.Info("breaker: state change",
		"breaker", b.name,
		"from", b.state.String(),
		"to", next.String(),
		"consecutive_failures", b.failures)
	b.state = next
	observability.DefaultMetrics.RecordBreakerState(b.name, int(next))
}

func (b *Breaker[T]) record(outcome string) {
	observability.DefaultMetrics.RecordBreakerCall(b.name, outcome)
}
