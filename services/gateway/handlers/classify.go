// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/laurelhq/ai-service/services/gateway/conversation"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/gateway/storage"
)

var classifyTracer = otel.Tracer("laurel.gateway.handlers")

// HandleClassifyIntent processes POST /v1/intent/classify.
//
// Standalone classification for clients that want the verdict without a
// streamed reply. The session is optional; when present its history and
// collected context inform the classifier.
func HandleClassifyIntent(classifier *conversation.Classifier, sessions *storage.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := classifyTracer.Start(c.Request.Context(), "HandleClassifyIntent")
		defer span.End()

		var req datatypes.ClassifyIntentRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the classify request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
			return
		}

		var sess *datatypes.Session
		if req.SessionId != "" {
			loaded, err := sessions.Load(ctx, req.SessionId)
			if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
				slog.Warn("classify: session load failed, classifying without context",
					"sessionId", req.SessionId, "error", err)
			}
			sess = loaded
		}

		intent, err := classifier.Classify(ctx, req.Message, sess)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "classification failed")
			// The classifier already degraded to a usable fallback.
			slog.Error("Intent classification degraded", "error", err)
		}

		c.JSON(http.StatusOK, datatypes.ClassifyIntentResponse{
			Intent:     intent.Type,
			Confidence: intent.Confidence,
			Reasoning:  intent.Reasoning,
		})
	}
}
