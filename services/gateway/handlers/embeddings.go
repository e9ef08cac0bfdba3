// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/gateway/recommend"
)

// HandleEmbed processes POST /v1/embeddings.
//
// Vectors are cached by content hash, so identical text across callers
// costs one upstream call until the cache entry lapses.
func HandleEmbed(embedder recommend.Embedder, c2 *cache.CoalescingCache, model string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req datatypes.EmbedRequest
		if err := c.BindJSON(&req); err != nil {
			slog.Error("Failed to parse the embed request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
			return
		}

		key := recommend.EmbedKey(req.Text)

		if c2 != nil {
			if raw, err := c2.Get(ctx, key); err == nil {
				var vector []float32
				if err := json.Unmarshal(raw, &vector); err == nil {
					c.JSON(http.StatusOK, datatypes.EmbedResponse{
						Vector: vector, Model: model, Cached: true,
					})
					return
				}
				slog.Warn("embed: discarding undecodable cached vector", "error", err)
			} else if !errors.Is(err, cache.ErrNotFound) {
				slog.Warn("embed: cache read failed, falling through to upstream", "error", err)
			}
		}

		vector, err := embedder.Embed(ctx, req.Text)
		if err != nil {
			slog.Error("Embedding call failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "embedding failed"})
			return
		}

		if c2 != nil {
			if raw, err := json.Marshal(vector); err == nil {
				if err := c2.Set(ctx, key, raw, ttl); err != nil {
					slog.Warn("embed: failed to cache vector", "error", err)
				}
			}
		}

		c.JSON(http.StatusOK, datatypes.EmbedResponse{
			Vector: vector, Model: model, Cached: false,
		})
	}
}
