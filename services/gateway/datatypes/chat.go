// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single inbound message.
	// Checked in bytes, not runes, to bound memory for pathological payloads.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryTurns is the maximum number of turns retained per session.
	// Older turns are trimmed when the bound is exceeded.
	MaxHistoryTurns = 100
)

// chatValidate is the shared validator instance for gateway datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces the MaxMessageContentBytes cap on a string field.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Stream Request
// =============================================================================

// ChatStreamRequest is the body of POST /v1/chat/stream.
//
// # Description
//
// Carries one user message for a conversation. SessionId is optional: when
// absent, the gateway creates a fresh session and returns its id in the
// terminal done frame.
//
// # Fields
//
//   - SessionId: Optional. Opaque conversation token. Generated when empty.
//   - Message: Required. The user's latest utterance, capped at 32KB.
//   - OwnerId: Optional. Caller identity; anonymous requests leave it empty.
//   - Context: Optional. Opaque intake fields owned by the caller; the
//     gateway stores and returns them without interpreting the contents.
type ChatStreamRequest struct {
	SessionId string         `json:"session_id" validate:"omitempty,max=128"`
	Message   string         `json:"message" validate:"required,maxbytes"`
	OwnerId   string         `json:"owner_id" validate:"omitempty,max=128"`
	Context   map[string]any `json:"context"`
}

// Validate checks the request against its validation tags.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Intent Classification
// =============================================================================

// ClassifyIntentRequest is the body of POST /v1/intent/classify.
type ClassifyIntentRequest struct {
	SessionId string `json:"session_id" validate:"omitempty,max=128"`
	Message   string `json:"message" validate:"required,maxbytes"`
}

// Validate checks the request against its validation tags.
func (r *ClassifyIntentRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ClassifyIntentResponse is the unary response of POST /v1/intent/classify.
type ClassifyIntentResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// =============================================================================
// Embeddings
// =============================================================================

// EmbedRequest is the body of POST /v1/embeddings.
type EmbedRequest struct {
	Text string `json:"text" validate:"required,maxbytes"`
}

// Validate checks the request against its validation tags.
func (r *EmbedRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EmbedResponse is the unary response of POST /v1/embeddings.
type EmbedResponse struct {
	Vector []float32 `json:"vector"`
	Model  string    `json:"model"`
	Cached bool      `json:"cached"`
}
