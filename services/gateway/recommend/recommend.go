// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package recommend produces category recommendations from vector search.
//
// # Description
//
// Embeds the conversation's collected details and runs a near-vector
// search over the knowledge base class in Weaviate. Query embeddings are
// cached through the gateway cache keyed by content hash, so repeated or
// coalesced requests for the same text cost one embedding call.
package recommend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
)

// EmbedKeyPrefix namespaces cached embedding vectors in the store.
const EmbedKeyPrefix = "embed/"

// DefaultClassName is the Weaviate class holding knowledge base entries.
const DefaultClassName = "KBArticle"

// Embedder turns text into a vector. llm.LLMClient satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Recommender produces ranked category recommendations for a query.
type Recommender interface {
	Recommend(ctx context.Context, query string, topK int) ([]datatypes.Recommendation, error)
}

// Config controls the Weaviate recommender.
type Config struct {
	// ClassName is the Weaviate class to search. The response parser is
	// typed against DefaultClassName; only override with a class that
	// shares its shape.
	ClassName string
	// MaxEmbedLength truncates overly long queries before embedding.
	MaxEmbedLength int
	// EmbedCacheTTL bounds how long a query embedding stays cached.
	EmbedCacheTTL time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		ClassName:      DefaultClassName,
		MaxEmbedLength: 2048,
		EmbedCacheTTL:  24 * time.Hour,
	}
}

// WeaviateRecommender implements Recommender against a Weaviate instance.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateRecommender struct {
	client   *weaviate.Client
	embedder Embedder
	cache    *cache.CoalescingCache
	config   Config
}

// NewWeaviateRecommender wires the recommender. cache may be nil, which
// disables embedding caching.
func NewWeaviateRecommender(client *weaviate.Client, embedder Embedder, c *cache.CoalescingCache, config Config) *WeaviateRecommender {
	if config.ClassName == "" {
		config.ClassName = DefaultClassName
	}
	if config.MaxEmbedLength < 1 {
		config.MaxEmbedLength = DefaultConfig().MaxEmbedLength
	}
	return &WeaviateRecommender{
		client:   client,
		embedder: embedder,
		cache:    c,
		config:   config,
	}
}

// Recommend embeds query and returns the topK nearest knowledge base
// entries as recommendations, best match first.
func (r *WeaviateRecommender) Recommend(ctx context.Context, query string, topK int) ([]datatypes.Recommendation, error) {
	if topK < 1 {
		topK = 3
	}
	if len(query) > r.config.MaxEmbedLength {
		query = query[:r.config.MaxEmbedLength]
	}

	vector, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(r.config.ClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		slog.Error("recommend: weaviate search failed", "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search failed: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KBQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	recs := make([]datatypes.Recommendation, 0, len(parsed.Get.KBArticle))
	for _, hit := range parsed.Get.KBArticle {
		if hit.Title == "" && hit.Additional.ID == "" {
			continue
		}
		recs = append(recs, datatypes.Recommendation{
			ID:    hit.Additional.ID,
			Title: hit.Title,
			Score: hit.Additional.Certainty,
		})
	}
	slog.Debug("recommend: search complete", "count", len(recs))
	return recs, nil
}

// embed returns the query vector, consulting the embedding cache when one
// is configured. Keys are content hashes so identical text across
// sessions shares one cached vector.
func (r *WeaviateRecommender) embed(ctx context.Context, query string) ([]float32, error) {
	if r.cache == nil {
		return r.embedder.Embed(ctx, query)
	}

	key := EmbedKey(query)
	raw, err := r.cache.GetOrLoad(ctx, key, r.config.EmbedCacheTTL, func(ctx context.Context) ([]byte, error) {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		return json.Marshal(vec)
	})
	if err != nil {
		return nil, err
	}
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vector, nil
}

// EmbedKey returns the cache key for a query's embedding vector.
func EmbedKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return EmbedKeyPrefix + hex.EncodeToString(sum[:])
}

