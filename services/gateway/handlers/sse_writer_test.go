// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurelhq/ai-service/services/gateway/datatypes"
)

// noFlushWriter is a ResponseWriter without http.Flusher support.
type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header       { return w.header }
func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *noFlushWriter) WriteHeader(statusCode int) {}

// TestNewSSEWriter_RequiresFlusher verifies that construction fails when
// the ResponseWriter cannot flush.
func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(&noFlushWriter{header: make(http.Header)})
	assert.Error(t, err, "should reject a writer without Flusher support")
}

// TestSSEWriter_WriteEvent verifies the wire format and the auto-assigned
// event fields.
func TestSSEWriter_WriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.FrameStatus,
		Message: "Thinking...",
	}))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: status\ndata: "), "should emit event line then data line")
	assert.True(t, strings.HasSuffix(body, "\n\n"), "should terminate frame with blank line")

	dataLine := strings.TrimPrefix(strings.Split(body, "\n")[1], "data: ")
	var event datatypes.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(dataLine), &event))
	assert.Equal(t, datatypes.FrameStatus, event.Type)
	assert.Equal(t, "Thinking...", event.Message)
	assert.NotEmpty(t, event.Id, "should assign an event id")
	assert.NotZero(t, event.CreatedAt, "should assign a creation timestamp")
}

// TestSSEWriter_WritePartial verifies fragment events.
func TestSSEWriter_WritePartial(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WritePartial("Hello"))
	require.NoError(t, w.WritePartial(" world"))

	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "partial", e.Event)
	}
	assert.Contains(t, events[0].Data, `"content":"Hello"`)
	assert.Contains(t, events[1].Data, `"content":" world"`)
}

// TestSSEWriter_WriteBusy verifies the busy frame payload.
func TestSSEWriter_WriteBusy(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteBusy(datatypes.BusyReasonCapacityTimeout, 2000))

	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "busy", events[0].Event)

	var event datatypes.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &event))
	assert.Equal(t, datatypes.BusyReasonCapacityTimeout, event.Reason)
	assert.Equal(t, 2000, event.RetryAfterMs)
}

// TestSSEWriter_WriteDone verifies the terminal done frame carries the
// session id.
func TestSSEWriter_WriteDone(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteDone("sess-42"))

	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].Event)
	assert.Contains(t, events[0].Data, `"session_id":"sess-42"`)
}

// TestSSEWriter_WriteKeepAlive verifies the comment frame format.
func TestSSEWriter_WriteKeepAlive(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteKeepAlive())

	assert.Equal(t, ": ping\n\n", rec.Body.String(), "keepalive should be an SSE comment")
}

// TestSetSSEHeaders verifies the streaming response headers.
func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
