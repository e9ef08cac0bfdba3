// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Streaming handlers emit events from different sources concurrently
// (reply fragments, keep-alives, the recommendation side channel).
//
// # Limitations
//
//   - Must be used with http.Flusher-compatible ResponseWriter
//   - Response headers must be set before first write
type SSEWriter interface {
	// WriteEvent writes a single SSE event to the response. Id and
	// CreatedAt are auto-set; the write flushes immediately.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a status event with the given message.
	WriteStatus(message string) error

	// WritePartial writes one reply fragment. Fragments are in display
	// order; each call flushes immediately.
	WritePartial(content string) error

	// WriteRecommendations writes the recommendation side channel event.
	// Recommendations are ordered best match first.
	WriteRecommendations(recs []datatypes.Recommendation) error

	// WriteBusy writes a busy event carrying the rejection reason and a
	// retry hint in milliseconds. The stream closes after this event.
	WriteBusy(reason string, retryAfterMs int) error

	// WriteError writes an error event. The message must already be
	// sanitized; no internal details reach the client. The stream closes
	// after this event.
	WriteError(errMsg string) error

	// WriteDone writes the final event with the session ID. Called once
	// per stream; nothing is written after it.
	WriteDone(sessionID string) error

	// WriteKeepAlive sends a comment line (": ping\n\n") to prevent
	// connection timeouts. Comments are ignored by SSE clients but reset
	// load balancer timeout counters (AWS ALB, Nginx default 60s).
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Description
//
// Wraps an http.ResponseWriter to emit SSE-formatted events in the form:
//
//	event: {type}
//	data: {json}
//
// # Thread Safety
//
// Thread-safe via mutex. Multiple goroutines can write events
// concurrently; each event reaches the wire whole.
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if ResponseWriter doesn't support flushing.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders()
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Write SSE format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.FrameStatus,
		Message: message,
	})
}

func (w *sseWriter) WritePartial(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.FramePartial,
		Content: content,
	})
}

func (w *sseWriter) WriteRecommendations(recs []datatypes.Recommendation) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:            datatypes.FrameRecommendations,
		Recommendations: recs,
	})
}

func (w *sseWriter) WriteBusy(reason string, retryAfterMs int) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:         datatypes.FrameBusy,
		Reason:       reason,
		RetryAfterMs: retryAfterMs,
	})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.FrameError,
		Error: errMsg,
	})
}

func (w *sseWriter) WriteDone(sessionID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.FrameDone,
		SessionId: sessionID,
	})
}

// WriteKeepAlive sends a comment line to keep the connection alive.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// Must be called before writing any response body. X-Accel-Buffering
// disables nginx proxy buffering.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
