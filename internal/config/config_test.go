package config

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/casualjim/relay/provider"
	"github.com/go-openapi/swag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg := LoadFrom(env(nil))
	assert.Equal(t, Defaults(), cfg)
	assert.False(t, cfg.HasCredential())
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 50*time.Millisecond, cfg.FallbackInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFrom(t *testing.T) {
	cfg := LoadFrom(env(map[string]string{
		"OPENAI_API_KEY":          "  sk-abc  ",
		"OPENAI_BASE_URL":         "http://localhost:9999/v1/",
		"RELAY_MODEL":             "gpt-4o",
		"RELAY_MAX_TOKENS":        "1200",
		"RELAY_TEMPERATURE":       "0.2",
		"RELAY_SYSTEM_PROMPT":     "be terse",
		"RELAY_ADDR":              "127.0.0.1:9000",
		"RELAY_CORS_ORIGIN":       "https://chat.example.com",
		"RELAY_MAX_ATTEMPTS":      "5",
		"RELAY_BACKOFF_BASE":      "250ms",
		"RELAY_TIMEOUT":           "10000",
		"RELAY_STREAM_TIMEOUT":    "2m",
		"RELAY_FALLBACK_INTERVAL": "0",
		"RELAY_LOG_LEVEL":         "debug",
		"NATS_URL":                "nats://localhost:4222",
	}))

	assert.Equal(t, "sk-abc", cfg.OpenAIAPIKey)
	assert.True(t, cfg.HasCredential())
	assert.Equal(t, "http://localhost:9999/v1/", cfg.OpenAIBaseURL)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, "https://chat.example.com", cfg.CORSOrigin)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.StreamTimeout)
	assert.Equal(t, time.Duration(0), cfg.FallbackInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)

	assert.Equal(t, provider.Request{Model: "gpt-4o", MaxTokens: 1200, Temperature: swag.Float64(0.2), SystemPrompt: "be terse"}, cfg.Request())
	policy := cfg.Policy()
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, policy.BackoffBase)
}

func TestLoadFrom_InvalidValuesKeepDefaults(t *testing.T) {
	cfg := LoadFrom(env(map[string]string{
		"RELAY_MAX_TOKENS":   "lots",
		"RELAY_TEMPERATURE":  "-1",
		"RELAY_MAX_ATTEMPTS": "0",
		"RELAY_BACKOFF_BASE": "soon",
		"RELAY_LOG_LEVEL":    "loud",
		"RELAY_MODEL":        "   ",
	}))
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadFrom_ZeroTemperature(t *testing.T) {
	cfg := LoadFrom(env(map[string]string{"RELAY_TEMPERATURE": "0"}))
	assert.Zero(t, cfg.Temperature)

	req := cfg.Request().WithDefaults()
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)

	for _, v := range []string{"NaN", "Inf"} {
		cfg := LoadFrom(env(map[string]string{"RELAY_TEMPERATURE": v}))
		assert.InDelta(t, provider.DefaultTemperature, cfg.Temperature, 0.0001, v)
	}
}

func TestConfig_LogValueHidesKey(t *testing.T) {
	cfg := LoadFrom(env(map[string]string{"OPENAI_API_KEY": "sk-secret"}))
	rendered := fmt.Sprint(cfg.LogValue())
	assert.NotContains(t, rendered, "sk-secret")
	assert.Contains(t, rendered, "has_api_key=true")
}
