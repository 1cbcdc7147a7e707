package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibylline/forecastmarket/pkg/models"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("STORE_URL", "postgres://localhost/test")
	t.Setenv("STORE_SERVICE_KEY", "test-service-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.LLMAPIKey)
	assert.Equal(t, "postgres://localhost/test", cfg.StoreURL)
	assert.Equal(t, "test-service-key", cfg.StoreServiceKey)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 300*time.Second, cfg.AgentTimeout)
	assert.Equal(t, 30*time.Second, cfg.TradingInterval)
	assert.Equal(t, models.ForecasterBalanced, cfg.DefaultForecasterClass)
	assert.Equal(t, 10, cfg.DefaultAgentCounts.Discovery)
}

func TestLoad_MissingRequiredEnv(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingEnv))
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AGENT_TIMEOUT_SECONDS", "120")
	t.Setenv("TRADING_INTERVAL_SECONDS", "15")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.AgentTimeout)
	assert.Equal(t, 15*time.Second, cfg.TradingInterval)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoad_RedisURLDefaultsToEmpty(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_MissingYAMLOverlayIsNotAnError(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, models.ForecasterBalanced, cfg.DefaultForecasterClass)
}

func TestLoad_YAMLOverlayAppliesOverrides(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
agent_counts:
  phase_1_discovery: 20
  phase_3_research: 6
forecaster_class: momentum
max_concurrent_llm: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.DefaultAgentCounts.Discovery)
	assert.Equal(t, 3, cfg.DefaultAgentCounts.Historical)
	assert.Equal(t, 3, cfg.DefaultAgentCounts.Current)
	assert.Equal(t, models.ForecasterMomentum, cfg.DefaultForecasterClass)
	assert.Equal(t, 4, cfg.MaxConcurrentLLM)
}

func TestLoad_YAMLOverlayRejectsInvalidForecasterClass(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "forecaster_class: not-a-class\n")

	_, err := Load(path)
	require.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
