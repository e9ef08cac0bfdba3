package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 8, cfg.Capacity)
	assert.Equal(t, 2*time.Second, cfg.AdmissionMaxWait)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerResetTimeout)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "", cfg.WeaviateHost, "recommendations disabled by default")
	assert.Equal(t, "http", cfg.WeaviateScheme)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9000")
	t.Setenv("GATEWAY_CAPACITY", "16")
	t.Setenv("GATEWAY_ADMISSION_MAX_WAIT", "500ms")
	t.Setenv("WEAVIATE_HOST", "weaviate:8080")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 16, cfg.Capacity)
	assert.Equal(t, 500*time.Millisecond, cfg.AdmissionMaxWait)
	assert.Equal(t, "weaviate:8080", cfg.WeaviateHost)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("GATEWAY_CAPACITY", "not-a-number")
	t.Setenv("GATEWAY_BREAKER_FAILURES", "0")
	t.Setenv("GATEWAY_CACHE_TTL", "-5m")
	t.Setenv("GATEWAY_UPSTREAM_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 8, cfg.Capacity)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.UpstreamTimeout)
}
