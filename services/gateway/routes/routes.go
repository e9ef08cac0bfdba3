// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/laurelhq/ai-service/services/gateway/admission"
	"github.com/laurelhq/ai-service/services/gateway/breaker"
	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/conversation"
	"github.com/laurelhq/ai-service/services/gateway/fetcher"
	"github.com/laurelhq/ai-service/services/gateway/handlers"
	"github.com/laurelhq/ai-service/services/gateway/recommend"
	"github.com/laurelhq/ai-service/services/gateway/storage"
)

// Deps carries everything the route table wires into handlers.
type Deps struct {
	Chat       *handlers.StreamingChatHandler
	Classifier *conversation.Classifier
	Embedder   recommend.Embedder
	Fetcher    *fetcher.Fetcher
	Sessions   *storage.SessionStore
	Cache      *cache.CoalescingCache
	Locks      *admission.SessionLock
	EmbedModel string
	EmbedTTL   time.Duration
	FetchTTL   time.Duration
	BreakerCfg breaker.Config
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", deps.Chat.HandleChatStream)
		v1.POST("/intent/classify", handlers.HandleClassifyIntent(deps.Classifier, deps.Sessions))
		v1.POST("/embeddings", handlers.HandleEmbed(deps.Embedder, deps.Cache, deps.EmbedModel, deps.EmbedTTL))
		v1.POST("/documents/fetch", handlers.HandleFetchDocument(deps.Fetcher, deps.Cache, deps.FetchTTL, deps.BreakerCfg))

		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:sessionId", handlers.GetSession(deps.Sessions))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(deps.Sessions, deps.Cache, deps.Locks))
		}
	}
}
