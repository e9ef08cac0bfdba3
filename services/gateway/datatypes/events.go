// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the gateway service.
//
// This file contains the typed frames written onto a chat response stream.
// Request/response bodies live in chat.go; the durable session record lives
// in session.go.
package datatypes

// =============================================================================
// Stream Frame Types
// =============================================================================

// Frame type discriminators. Every frame on a response stream carries exactly
// one of these in its Type field.
const (
	// FrameStatus is a free-text progress note ("Looking that up...").
	FrameStatus = "status"

	// FramePartial is an incremental fragment of the generated reply.
	// Fragments for one response are delivered in generation order.
	FramePartial = "partial"

	// FrameRecommendations carries the ranked category list computed as a
	// side channel after the main reply text.
	FrameRecommendations = "recommendations"

	// FrameBusy signals that the request was rejected before any upstream
	// work started. Terminal. Carries a Reason and a retry hint.
	FrameBusy = "busy"

	// FrameError signals a terminal failure after streaming has begun.
	// The Error text is sanitized; provider errors are never forwarded
	// verbatim.
	FrameError = "error"

	// FrameDone is the terminal frame of a successful stream. Carries the
	// session id so the client can continue the conversation.
	FrameDone = "done"
)

// Busy reasons. The client can use these to pick retry guidance: a busy
// session clears as soon as the in-flight turn completes, while a capacity
// timeout suggests the whole service is saturated.
const (
	BusyReasonSessionInFlight = "session_in_flight"
	BusyReasonCapacityTimeout = "capacity_timeout"
)

// StreamEvent is one framed unit on the response stream.
//
// # Description
//
// StreamEvent is serialized to JSON and written as a single SSE event. The
// Id and CreatedAt fields are populated by the stream writer; callers only
// set Type and the payload fields relevant to that type.
//
// # Fields
//
//   - Id: UUID v4 assigned per frame, for client-side ordering and dedupe.
//   - Type: One of the Frame* constants.
//   - CreatedAt: Unix timestamp in milliseconds when the frame was written.
//   - Message: Status text (FrameStatus).
//   - Content: Reply fragment (FramePartial).
//   - Recommendations: Ranked list (FrameRecommendations).
//   - Reason: Busy reason discriminator (FrameBusy).
//   - RetryAfterMs: Suggested client retry delay (FrameBusy).
//   - Error: Sanitized failure description (FrameError).
//   - SessionId: Conversation id (FrameDone).
type StreamEvent struct {
	Id              string           `json:"id,omitempty"`
	Type            string           `json:"type"`
	CreatedAt       int64            `json:"created_at,omitempty"`
	Message         string           `json:"message,omitempty"`
	Content         string           `json:"content,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	RetryAfterMs    int              `json:"retry_after_ms,omitempty"`
	Error           string           `json:"error,omitempty"`
	SessionId       string           `json:"session_id,omitempty"`
}

// Recommendation is one entry of the ranked side-channel result.
type Recommendation struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}
