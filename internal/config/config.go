// Package config reads the relay's settings from the environment.
package config

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/fallback"
	"github.com/casualjim/relay/provider/openai"
	"github.com/casualjim/relay/retry"
	"github.com/go-openapi/swag"
)

var errOutOfRange = errors.New("out of range")

type Config struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Model        string
	MaxTokens    int64
	Temperature  float64
	SystemPrompt string

	Addr       string
	CORSOrigin string

	MaxAttempts      int
	BackoffBase      time.Duration
	Timeout          time.Duration
	StreamTimeout    time.Duration
	FallbackInterval time.Duration

	LogLevel slog.Level
	NATSURL  string
}

// Defaults is the configuration of an empty environment.
func Defaults() Config {
	return Config{
		Model:            provider.DefaultModel,
		MaxTokens:        provider.DefaultMaxTokens,
		Temperature:      provider.DefaultTemperature,
		SystemPrompt:     provider.DefaultSystemPrompt,
		Addr:             ":8787",
		CORSOrigin:       "*",
		MaxAttempts:      retry.DefaultMaxAttempts,
		BackoffBase:      retry.DefaultBackoffBase,
		Timeout:          openai.DefaultTimeout,
		StreamTimeout:    openai.DefaultStreamTimeout,
		FallbackInterval: fallback.DefaultInterval,
		LogLevel:         slog.LevelInfo,
	}
}

// Load reads the process environment.
func Load() Config {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads settings through lookup. Values that fail to parse keep their
// default and are reported with a warning.
func LoadFrom(lookup func(string) (string, bool)) Config {
	cfg := Defaults()
	r := reader{lookup: lookup}

	cfg.OpenAIAPIKey = strings.TrimSpace(r.str("OPENAI_API_KEY", ""))
	cfg.OpenAIBaseURL = r.str("OPENAI_BASE_URL", "")
	cfg.Model = r.str("RELAY_MODEL", cfg.Model)
	cfg.MaxTokens = r.int64("RELAY_MAX_TOKENS", cfg.MaxTokens)
	cfg.Temperature = r.float64("RELAY_TEMPERATURE", cfg.Temperature)
	cfg.SystemPrompt = r.str("RELAY_SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.Addr = r.str("RELAY_ADDR", cfg.Addr)
	cfg.CORSOrigin = r.str("RELAY_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.MaxAttempts = int(r.int64("RELAY_MAX_ATTEMPTS", int64(cfg.MaxAttempts)))
	cfg.BackoffBase = r.duration("RELAY_BACKOFF_BASE", cfg.BackoffBase)
	cfg.Timeout = r.duration("RELAY_TIMEOUT", cfg.Timeout)
	cfg.StreamTimeout = r.duration("RELAY_STREAM_TIMEOUT", cfg.StreamTimeout)
	cfg.FallbackInterval = r.duration("RELAY_FALLBACK_INTERVAL", cfg.FallbackInterval)
	cfg.LogLevel = r.level("RELAY_LOG_LEVEL", cfg.LogLevel)
	cfg.NATSURL = r.str("NATS_URL", "")
	return cfg
}

// HasCredential reports whether an API key was configured at all.
func (c Config) HasCredential() bool {
	return c.OpenAIAPIKey != ""
}

// Request holds the generation parameters sent upstream.
func (c Config) Request() provider.Request {
	return provider.Request{
		Model:        c.Model,
		MaxTokens:    c.MaxTokens,
		Temperature:  swag.Float64(c.Temperature),
		SystemPrompt: c.SystemPrompt,
	}
}

// Policy is the retry policy for upstream calls.
func (c Config) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BackoffBase: c.BackoffBase,
	}
}

// LogValue keeps the API key out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("has_api_key", c.HasCredential()),
		slog.Bool("api_key_valid", provider.ValidCredential(c.OpenAIAPIKey)),
		slog.String("base_url", c.OpenAIBaseURL),
		slog.String("model", c.Model),
		slog.String("addr", c.Addr),
		slog.Int("max_attempts", c.MaxAttempts),
		slog.Duration("backoff_base", c.BackoffBase),
		slog.Duration("timeout", c.Timeout),
		slog.String("log_level", c.LogLevel.String()),
		slog.Bool("nats", c.NATSURL != ""),
	)
}

type reader struct {
	lookup func(string) (string, bool)
}

func (r reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func (r reader) int64(key string, def int64) int64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := swag.ConvertInt64(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		invalid(key, v, err)
		return def
	}
	return n
}

func (r reader) float64(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := swag.ConvertFloat64(strings.TrimSpace(v))
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		invalid(key, v, err)
		return def
	}
	return f
}

// duration accepts Go durations ("750ms") and bare milliseconds ("750").
func (r reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.str(key, ""))
	if v == "" {
		return def
	}
	if ms, err := swag.ConvertInt64(v); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		invalid(key, v, err)
		return def
	}
	return d
}

func (r reader) level(key string, def slog.Level) slog.Level {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		invalid(key, v, err)
		return def
	}
	return lvl
}

func invalid(key, value string, err error) {
	if err == nil {
		err = errOutOfRange
	}
	slog.Warn("ignoring invalid configuration value", slog.String("key", key), slog.String("value", value), slogx.Error(err))
}
