// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the streaming pipeline end to end: request outcomes,
// active streams, admission queue waits, busy rejections, circuit breaker
// state, cache effectiveness, and keep-alive/disconnect counts. Exposed on
// /metrics for Prometheus scraping.
//
// # Thread Safety
//
// All operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "laurel"
const gatewaySubsystem = "gateway"

// =============================================================================
// Metric Definitions
// =============================================================================

// GatewayMetrics holds all Prometheus metrics for the gateway service.
//
// Initialize once at startup via InitMetrics(); handlers reach it through
// the DefaultMetrics singleton and must tolerate a nil singleton so unit
// tests can run without registration.
type GatewayMetrics struct {
	// RequestsTotal counts chat requests by terminal outcome.
	// Labels: outcome (completed, busy, errored, aborted)
	RequestsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open response streams.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures total stream duration by outcome.
	StreamDurationSeconds *prometheus.HistogramVec

	// TimeToFirstPartialSeconds measures latency to the first reply fragment.
	TimeToFirstPartialSeconds prometheus.Histogram

	// AdmissionWaitSeconds observes time spent queued for a capacity slot.
	// Labels: granted (true, false)
	AdmissionWaitSeconds *prometheus.HistogramVec

	// BusyTotal counts busy rejections by reason.
	// Labels: reason (session_in_flight, capacity_timeout)
	BusyTotal *prometheus.CounterVec

	// BreakerState reports circuit state per breaker (0 closed, 1 open,
	// 2 half-open).
	BreakerState *prometheus.GaugeVec

	// BreakerCallsTotal counts breaker-guarded calls.
	// Labels: breaker, outcome (success, failure, short_circuit, fallback)
	BreakerCallsTotal *prometheus.CounterVec

	// CacheOpsTotal counts cache lookups and fills.
	// Labels: op (get, set, invalidate), outcome (hit, miss, coalesced, ok, error)
	CacheOpsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keep-alive frames written.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	ClientDisconnectsTotal prometheus.Counter

	// SessionsSweptTotal counts expired session records removed by the
	// background sweep.
	SessionsSweptTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, set by InitMetrics. Nil until
// then; all Record helpers nil-check it.
var DefaultMetrics *GatewayMetrics

// InitMetrics creates and registers all gateway metrics on the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Chat requests by terminal outcome",
			},
			[]string{"outcome"},
		),
		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_streams",
				Help:      "Currently open response streams",
			},
		),
		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total response stream duration",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		TimeToFirstPartialSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "time_to_first_partial_seconds",
				Help:      "Latency from admission to first reply fragment",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		AdmissionWaitSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "admission_wait_seconds",
				Help:      "Time spent queued for a capacity slot",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"granted"},
		),
		BusyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "busy_total",
				Help:      "Busy rejections by reason",
			},
			[]string{"reason"},
		),
		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "breaker_state",
				Help:      "Circuit state per breaker (0 closed, 1 open, 2 half-open)",
			},
			[]string{"breaker"},
		),
		BreakerCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "breaker_calls_total",
				Help:      "Breaker-guarded calls by outcome",
			},
			[]string{"breaker", "outcome"},
		),
		CacheOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "cache_ops_total",
				Help:      "Cache operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "keepalives_total",
				Help:      "Keep-alive frames written",
			},
		),
		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Client disconnections mid-stream",
			},
		),
		SessionsSweptTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "sessions_swept_total",
				Help:      "Expired session records removed by the sweep",
			},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Recording Helpers
// =============================================================================

// Outcome labels for RequestsTotal and StreamDurationSeconds.
const (
	OutcomeCompleted = "completed"
	OutcomeBusy      = "busy"
	OutcomeErrored   = "errored"
	OutcomeAborted   = "aborted"
)

// RecordRequest counts one finished request.
func (m *GatewayMetrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordStreamDuration observes a finished stream's duration.
func (m *GatewayMetrics) RecordStreamDuration(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordTimeToFirstPartial observes latency to the first reply fragment.
func (m *GatewayMetrics) RecordTimeToFirstPartial(seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstPartialSeconds.Observe(seconds)
}

// RecordAdmissionWait observes one admission queue wait.
func (m *GatewayMetrics) RecordAdmissionWait(seconds float64, granted bool) {
	if m == nil {
		return
	}
	label := "false"
	if granted {
		label = "true"
	}
	m.AdmissionWaitSeconds.WithLabelValues(label).Observe(seconds)
}

// RecordBusy counts one busy rejection.
func (m *GatewayMetrics) RecordBusy(reason string) {
	if m == nil {
		return
	}
	m.BusyTotal.WithLabelValues(reason).Inc()
}

// RecordBreakerState updates the state gauge for a named breaker.
func (m *GatewayMetrics) RecordBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordBreakerCall counts one breaker-guarded call.
func (m *GatewayMetrics) RecordBreakerCall(breaker, outcome string) {
	if m == nil {
		return
	}
	m.BreakerCallsTotal.WithLabelValues(breaker, outcome).Inc()
}

// RecordCacheOp counts one cache operation.
func (m *GatewayMetrics) RecordCacheOp(op, outcome string) {
	if m == nil {
		return
	}
	m.CacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordKeepAlive counts one keep-alive frame.
func (m *GatewayMetrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect counts one mid-stream disconnect.
func (m *GatewayMetrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}

// RecordSessionsSwept counts records removed by one sweep cycle.
func (m *GatewayMetrics) RecordSessionsSwept(n int) {
	if m == nil {
		return
	}
	m.SessionsSweptTotal.Add(float64(n))
}

// StreamStarted increments the active stream gauge.
func (m *GatewayMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *GatewayMetrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
