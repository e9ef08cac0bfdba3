// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/laurelhq/ai-service/services/gateway/admission"
	"github.com/laurelhq/ai-service/services/gateway/breaker"
	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/config"
	"github.com/laurelhq/ai-service/services/gateway/conversation"
	"github.com/laurelhq/ai-service/services/gateway/fetcher"
	"github.com/laurelhq/ai-service/services/gateway/handlers"
	"github.com/laurelhq/ai-service/services/gateway/observability"
	"github.com/laurelhq/ai-service/services/gateway/recommend"
	"github.com/laurelhq/ai-service/services/gateway/routes"
	"github.com/laurelhq/ai-service/services/gateway/storage"
	"github.com/laurelhq/ai-service/services/gateway/ttl"
	"github.com/laurelhq/ai-service/services/llm"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	if endpoint == "" {
		endpoint = "laurel-otel-collector:4317"
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Init the tracer ---
	cleanup, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// --- Durable store and cache ---
	store, err := storage.Open(storage.DefaultConfig(cfg.DataDir))
	if err != nil {
		log.Fatalf("FATAL: Could not open the durable store: %v", err)
	}
	defer store.Close()

	gatewayCache := cache.New(store, cache.Options{
		DefaultTTL:      cfg.CacheTTL,
		JanitorInterval: time.Minute,
	})
	defer gatewayCache.Close()

	sessions := storage.NewSessionStore(store)

	// --- Weaviate (optional; recommendations disabled without it) ---
	var weaviateClient *weaviate.Client
	if cfg.WeaviateHost != "" {
		weaviateClient, err = weaviate.NewClient(weaviate.Config{
			Host:   cfg.WeaviateHost,
			Scheme: cfg.WeaviateScheme,
		})
		if err != nil {
			slog.Error("Failed to create Weaviate client, recommendations disabled", "error", err)
			weaviateClient = nil
		}
	} else {
		slog.Info("WEAVIATE_HOST not set. Running without recommendations.")
	}

	log.Println("Configuring the LLM Client")
	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	var recommender recommend.Recommender
	if weaviateClient != nil {
		recommender = recommend.NewWeaviateRecommender(weaviateClient, llmClient, gatewayCache, recommend.DefaultConfig())
	}

	// --- Admission and pipeline wiring ---
	locks := admission.NewSessionLock()
	gate := admission.NewController(int64(cfg.Capacity), cfg.AdmissionMaxWait)
	classifier := conversation.NewClassifier(llmClient)

	chatHandler := handlers.NewStreamingChatHandler(
		llmClient,
		classifier,
		recommender,
		sessions,
		gatewayCache,
		locks,
		gate,
		breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			ResetTimeout:     cfg.BreakerResetTimeout,
		},
		handlers.StreamOptions{
			KeepAliveInterval: cfg.KeepAliveInterval,
			SessionTTL:        cfg.SessionTTL,
			MaxHistoryTurns:   cfg.MaxHistoryTurns,
			HistoryWindow:     cfg.HistoryWindow,
			UpstreamTimeout:   cfg.UpstreamTimeout,
			RecommendTopK:     cfg.RecommendTopK,
			RetryAfter:        cfg.AdmissionMaxWait,
		},
		otel.Tracer("laurel.gateway"),
	)

	// --- Expired session sweep ---
	sweeper := ttl.NewSweeper(sessions, gatewayCache, ttl.SweeperConfig{
		Interval: cfg.SweepInterval,
	})
	if err := sweeper.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start the session sweeper: %v", err)
	}
	defer sweeper.Stop()

	router := gin.Default()
	router.Use(otelgin.Middleware("gateway-service"))

	embedModel := os.Getenv("OPENAI_EMBED_MODEL")
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}

	routes.SetupRoutes(router, routes.Deps{
		Chat:       chatHandler,
		Classifier: classifier,
		Embedder:   llmClient,
		Fetcher:    fetcher.New(nil, 2, 2),
		Sessions:   sessions,
		Cache:      gatewayCache,
		Locks:      locks,
		EmbedModel: embedModel,
		EmbedTTL:   cfg.CacheTTL,
		FetchTTL:   cfg.CacheTTL,
		BreakerCfg: breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			ResetTimeout:     cfg.BreakerResetTimeout,
		},
	})

	log.Println("Starting the gateway server on port ", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
