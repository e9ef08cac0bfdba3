// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads gateway settings from the environment.
//
// Every knob has a production default; unset or malformed values fall
// back with a warning rather than failing startup. Only a missing
// upstream credential is fatal, and that check lives with the client
// that needs it.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds all gateway settings.
type Config struct {
	// Port the HTTP server listens on.
	Port string

	// Capacity is the maximum number of concurrent streams.
	Capacity int

	// AdmissionMaxWait bounds how long a request queues for a slot
	// before a busy response.
	AdmissionMaxWait time.Duration

	// BreakerFailureThreshold trips the upstream circuit after this many
	// consecutive failures.
	BreakerFailureThreshold int

	// BreakerResetTimeout is how long a tripped circuit stays open.
	BreakerResetTimeout time.Duration

	// CacheTTL is the default lifetime of cached entries.
	CacheTTL time.Duration

	// KeepAliveInterval between comment frames on idle streams.
	KeepAliveInterval time.Duration

	// SessionTTL is how long a session lives past its last activity.
	SessionTTL time.Duration

	// SweepInterval between expired-session sweeps.
	SweepInterval time.Duration

	// MaxHistoryTurns bounds stored conversation history per session.
	MaxHistoryTurns int

	// HistoryWindow bounds how many turns go into each model prompt.
	HistoryWindow int

	// UpstreamTimeout bounds one model call.
	UpstreamTimeout time.Duration

	// RecommendTopK is how many category recommendations to return.
	RecommendTopK int

	// WeaviateHost is the vector database host:port. Empty disables
	// recommendations.
	WeaviateHost string

	// WeaviateScheme is http or https.
	WeaviateScheme string

	// DataDir is the durable store location.
	DataDir string

	// OTLPEndpoint receives traces. Empty disables export.
	OTLPEndpoint string
}

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Port:                    envString("GATEWAY_PORT", "8090"),
		Capacity:                envInt("GATEWAY_CAPACITY", 8),
		AdmissionMaxWait:        envDuration("GATEWAY_ADMISSION_MAX_WAIT", 2*time.Second),
		BreakerFailureThreshold: envInt("GATEWAY_BREAKER_FAILURES", 5),
		BreakerResetTimeout:     envDuration("GATEWAY_BREAKER_RESET", 30*time.Second),
		CacheTTL:                envDuration("GATEWAY_CACHE_TTL", 15*time.Minute),
		KeepAliveInterval:       envDuration("GATEWAY_KEEPALIVE_INTERVAL", 15*time.Second),
		SessionTTL:              envDuration("GATEWAY_SESSION_TTL", 24*time.Hour),
		SweepInterval:           envDuration("GATEWAY_SWEEP_INTERVAL", 5*time.Minute),
		MaxHistoryTurns:         envInt("GATEWAY_MAX_HISTORY_TURNS", 100),
		HistoryWindow:           envInt("GATEWAY_HISTORY_WINDOW", 10),
		UpstreamTimeout:         envDuration("GATEWAY_UPSTREAM_TIMEOUT", 30*time.Second),
		RecommendTopK:           envInt("GATEWAY_RECOMMEND_TOP_K", 3),
		WeaviateHost:            envString("WEAVIATE_HOST", ""),
		WeaviateScheme:          envString("WEAVIATE_SCHEME", "http"),
		DataDir:                 envString("GATEWAY_DATA_DIR", "/var/lib/laurel/gateway"),
		OTLPEndpoint:            envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		slog.Warn("config: invalid integer value, using default",
			"key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		slog.Warn("config: invalid duration value, using default",
			"key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}
