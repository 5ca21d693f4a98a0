package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FailPolicy controls what happens when every enforcement backend is unusable.
type FailPolicy string

const (
	// FailOpen admits requests when no limiter state is available.
	FailOpen FailPolicy = "open"
	// FailClosed denies requests when no limiter state is available.
	FailClosed FailPolicy = "closed"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	// AlertWebhooks are shoutrrr destination URLs for critical alerts.
	AlertWebhooks []string

	// RateLimitOverrides is a comma-separated list of
	// "category:maxRequests:windowSeconds:blockSeconds" entries that
	// replace the built-in per-category limits.
	RateLimitOverrides string

	// FallbackEnabled keeps the in-memory limiter available when the
	// distributed backend is down. Disabling it makes FailPolicy the
	// last word on unreachable-backend behaviour.
	FallbackEnabled bool
	FailPolicy      FailPolicy
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:        getEnv("PERIM_ENV", "development"),
		HTTPPort:           getEnv("PERIM_HTTP_PORT", "8080"),
		DatabasePath:       getEnv("PERIM_DB_PATH", filepath.Join("data", "perimeter.db")),
		RedisAddr:          getEnv("PERIM_REDIS_ADDR", ""),
		RedisPassword:      getEnv("PERIM_REDIS_PASSWORD", ""),
		JWTSecret:          getEnv("PERIM_JWT_SECRET", ""),
		RateLimitOverrides: getEnv("PERIM_RATE_LIMITS", ""),
		FallbackEnabled:    getEnvBool("PERIM_FALLBACK_ENABLED", true),
		FailPolicy:         FailPolicy(getEnv("PERIM_FAIL_POLICY", string(FailOpen))),
	}

	if hooks := getEnv("PERIM_ALERT_WEBHOOKS", ""); hooks != "" {
		for _, h := range strings.Split(hooks, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.AlertWebhooks = append(cfg.AlertWebhooks, h)
			}
		}
	}

	db, err := strconv.Atoi(getEnv("PERIM_REDIS_DB", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PERIM_REDIS_DB: %w", err)
	}
	cfg.RedisDB = db

	if cfg.FailPolicy != FailOpen && cfg.FailPolicy != FailClosed {
		return Config{}, fmt.Errorf("invalid PERIM_FAIL_POLICY %q: must be %q or %q", cfg.FailPolicy, FailOpen, FailClosed)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production enforcement semantics.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
