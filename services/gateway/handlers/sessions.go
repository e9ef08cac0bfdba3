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

	"github.com/laurelhq/ai-service/services/gateway/admission"
	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/storage"
)

// GetSession returns a session's current state.
func GetSession(sessions *storage.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		sess, err := sessions.Load(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("failed to load session", "sessionId", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// DeleteSession removes a session's durable record and cached copy.
//
// A delete racing an in-flight stream is refused; the stream would
// re-persist the session on completion anyway.
func DeleteSession(sessions *storage.SessionStore, c2 *cache.CoalescingCache, locks *admission.SessionLock) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "sessionId", id)

		if locks.Held(id) {
			c.JSON(http.StatusConflict, gin.H{"error": "session has a stream in flight"})
			return
		}

		if err := sessions.Delete(c.Request.Context(), id); err != nil {
			slog.Error("failed to delete session record", "sessionId", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fully delete session"})
			return
		}
		if c2 != nil {
			if err := c2.Invalidate(c.Request.Context(), storage.SessionKey(id)); err != nil {
				slog.Warn("failed to invalidate cached session", "sessionId", id, "error", err)
			}
		}

		slog.Info("Successfully deleted all data for session", "sessionId", id)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id})
	}
}
