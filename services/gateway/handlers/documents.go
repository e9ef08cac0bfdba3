// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/laurelhq/ai-service/services/gateway/breaker"
	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/gateway/fetcher"
)

// DocumentKeyPrefix namespaces cached fetched documents in the store.
const DocumentKeyPrefix = "doc/"

// DocumentKey returns the cache key for a fetched URL.
func DocumentKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return DocumentKeyPrefix + hex.EncodeToString(sum[:])
}

// HandleFetchDocument processes POST /v1/documents/fetch.
//
// # Description
//
// Retrieves an external reference document for intake review. Fetches go
// through the per-host rate limiter and a dedicated circuit, and the
// result is cached by URL hash so repeated lookups of the same document
// cost one upstream request until the entry lapses.
func HandleFetchDocument(f *fetcher.Fetcher, c2 *cache.CoalescingCache, ttl time.Duration, breakerCfg breaker.Config) gin.HandlerFunc {
	breakerCfg.Name = "fetch"
	fetchBreaker := breaker.New[*fetcher.Document](breakerCfg)

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req datatypes.FetchDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			slog.Error("Failed to parse the fetch document request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
			return
		}

		key := DocumentKey(req.URL)

		if c2 != nil {
			if raw, err := c2.Get(ctx, key); err == nil {
				var doc fetcher.Document
				if err := json.Unmarshal(raw, &doc); err == nil {
					c.JSON(http.StatusOK, documentResponse(&doc, true))
					return
				}
				slog.Warn("documents: discarding undecodable cached document", "error", err)
			} else if !errors.Is(err, cache.ErrNotFound) {
				slog.Warn("documents: cache read failed, falling through to fetch", "error", err)
			}
		}

		doc, err := fetchBreaker.Fire(ctx, func(ctx context.Context) (*fetcher.Document, error) {
			return f.Fetch(ctx, req.URL)
		})
		if err != nil {
			if errors.Is(err, breaker.ErrOpen) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document fetching temporarily unavailable"})
				return
			}
			slog.Error("Document fetch failed", "url", req.URL, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "document fetch failed"})
			return
		}

		if c2 != nil {
			if raw, err := json.Marshal(doc); err == nil {
				if err := c2.Set(ctx, key, raw, ttl); err != nil {
					slog.Warn("documents: failed to cache document", "url", req.URL, "error", err)
				}
			}
		}

		c.JSON(http.StatusOK, documentResponse(doc, false))
	}
}

func documentResponse(doc *fetcher.Document, cached bool) datatypes.FetchDocumentResponse {
	return datatypes.FetchDocumentResponse{
		URL:         doc.URL,
		ContentType: doc.ContentType,
		Body:        string(doc.Body),
		FetchedAt:   doc.FetchedAt,
		Cached:      cached,
	}
}
