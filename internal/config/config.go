// Package config loads all environment variables for the answer API.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the answer API service and CLI.
type Config struct {
	// Server
	APIHost string
	APIPort string

	// Database (optional: sessions and token exchange are disabled without it)
	DatabaseURL string

	LogLevel string

	// LLM
	LLMModel          string
	GCPProject        string
	GCPLocation       string
	GoogleAPIKey      string
	LLMBaseURL        string
	VertexDatastore   string
	LLMMaxTokens      int
	LLMTimeoutSec     int
	LLMRateLimitRPS   float64
	LLMRetryAttempts  int
	LLMRetryBaseDelay int // milliseconds

	// Retrieval switches
	DisableVAS       bool
	EnableVASStream  bool
	DefaultSystemIns string

	// AuthEnabled controls whether JWT auth is enforced
	AuthEnabled bool

	// JWTSecret is the HMAC-SHA256 signing key for JWT tokens
	JWTSecret string

	// JWTExpiryHours is the JWT token lifetime in hours (default 24)
	JWTExpiryHours int

	// CrashGuardStreamStaleMin marks sessions stuck in "streaming" as failed
	// after this many minutes
	CrashGuardStreamStaleMin int

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		APIHost: envOr("API_HOST", "0.0.0.0"),
		APIPort: envOr("API_PORT", "8000"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		LogLevel: envOr("LOG_LEVEL", "info"),

		LLMModel:          envOr("LLM_MODEL", "gemini-2.5-flash"),
		GCPProject:        os.Getenv("GOOGLE_CLOUD_PROJECT"),
		GCPLocation:       envOr("GOOGLE_CLOUD_LOCATION", "global"),
		GoogleAPIKey:      os.Getenv("GOOGLE_API_KEY"),
		LLMBaseURL:        os.Getenv("LLM_BASE_URL"),
		VertexDatastore:   os.Getenv("VERTEX_DATASTORE"),
		LLMMaxTokens:      envInt("LLM_MAX_TOKENS", 4096),
		LLMTimeoutSec:     envInt("LLM_TIMEOUT_SEC", 120),
		LLMRateLimitRPS:   envFloat("LLM_RATE_LIMIT_RPS", 0),
		LLMRetryAttempts:  envInt("LLM_RETRY_ATTEMPTS", 3),
		LLMRetryBaseDelay: envInt("LLM_RETRY_BASE_DELAY_MS", 1000),

		DisableVAS:       envBool("AI_DISABLE_VAS", false),
		EnableVASStream:  envBool("AI_ENABLE_VAS_STREAM", false),
		DefaultSystemIns: os.Getenv("SYSTEM_INSTRUCTION"),

		AuthEnabled:    envBool("AUTH_ENABLED", false),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTExpiryHours: envInt("JWT_EXPIRY_HOURS", 24),

		CrashGuardStreamStaleMin: envInt("CRASH_GUARD_STREAM_STALE_MIN", 15),

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 300 * time.Second, // streamed answers can run long
		IdleTimeout:  60 * time.Second,
	}

	if cfg.GCPProject == "" && cfg.GoogleAPIKey == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT or GOOGLE_API_KEY is required")
	}
	if cfg.AuthEnabled && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required when AUTH_ENABLED=true")
	}
	if cfg.LLMRetryAttempts < 1 {
		cfg.LLMRetryAttempts = 1
	}

	return cfg, nil
}

// Addr returns the listen address as "host:port".
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.APIHost, c.APIPort)
}

// LLMTimeout returns the LLM HTTP client timeout as a time.Duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

// RetryBaseDelay returns the first stream retry backoff as a time.Duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.LLMRetryBaseDelay) * time.Millisecond
}

// UseAPIKey reports whether the Gemini Developer API (API key) is used
// instead of Vertex AI.
func (c *Config) UseAPIKey() bool {
	return c.GoogleAPIKey != ""
}

// SlogLevel maps LOG_LEVEL to a slog.Level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
