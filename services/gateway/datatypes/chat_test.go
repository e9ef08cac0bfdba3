// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatStreamRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatStreamRequest
		wantErr bool
	}{
		{
			name: "valid minimal",
			req:  ChatStreamRequest{Message: "hello"},
		},
		{
			name: "valid with session and owner",
			req:  ChatStreamRequest{SessionId: "sess-1", Message: "hello", OwnerId: "user-1"},
		},
		{
			name:    "missing message",
			req:     ChatStreamRequest{SessionId: "sess-1"},
			wantErr: true,
		},
		{
			name:    "message over byte cap",
			req:     ChatStreamRequest{Message: strings.Repeat("a", MaxMessageContentBytes+1)},
			wantErr: true,
		},
		{
			name: "message at byte cap",
			req:  ChatStreamRequest{Message: strings.Repeat("a", MaxMessageContentBytes)},
		},
		{
			name:    "session id too long",
			req:     ChatStreamRequest{SessionId: strings.Repeat("x", 129), Message: "hello"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChatStreamRequest_MaxBytesCountsBytesNotRunes(t *testing.T) {
	// Multi-byte runes: rune count under the cap, byte count over it.
	req := ChatStreamRequest{Message: strings.Repeat("é", MaxMessageContentBytes/2+1)}
	assert.Error(t, req.Validate())
}

func TestEmbedRequest_Validate(t *testing.T) {
	assert.NoError(t, (&EmbedRequest{Text: "embed me"}).Validate())
	assert.Error(t, (&EmbedRequest{}).Validate())
}

func TestClassifyIntentRequest_Validate(t *testing.T) {
	assert.NoError(t, (&ClassifyIntentRequest{Message: "hi"}).Validate())
	assert.Error(t, (&ClassifyIntentRequest{SessionId: "sess-1"}).Validate())
}
