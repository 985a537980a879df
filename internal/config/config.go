// Package config provides centralized configuration loading and validation
// for the Tollgate gateway.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mapindex/tollgate/internal/tier"
)

// Quota store backend selection values.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all validated configuration for the Tollgate gateway.
type Config struct {
	// ListenAddr is the address the HTTP server binds to (e.g., ":3000").
	ListenAddr string

	// UpstreamURL is the content API the gateway forwards admitted requests to.
	UpstreamURL *url.URL

	// QuotaBackend selects the quota store: "memory" or "redis".
	QuotaBackend string

	// RedisAddr is the Redis server address (host:port).
	RedisAddr string

	// StoreTimeout bounds the quota store call made per request.
	StoreTimeout time.Duration

	// PrincipalHeader names a header carrying an authenticated principal
	// used for client identification. Empty disables principal lookup.
	PrincipalHeader string

	// AdminAPIToken is the bearer token required for management API access.
	AdminAPIToken string

	// DatabaseURL is the PostgreSQL connection string for decision analytics.
	// Empty string disables analytics persistence.
	DatabaseURL string

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string

	// Policies is the tier table after environment overrides are applied.
	Policies []tier.Policy
}

// Load reads configuration from environment variables, applies defaults,
// and validates all required values.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":3000"),
		QuotaBackend:    strings.ToLower(getEnv("QUOTA_BACKEND", BackendRedis)),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		StoreTimeout:    getEnvDuration("STORE_TIMEOUT", 500*time.Millisecond),
		PrincipalHeader: strings.TrimSpace(getEnv("PRINCIPAL_HEADER", "")),
		AdminAPIToken:   strings.TrimSpace(getEnv("ADMIN_API_TOKEN", "")),
		DatabaseURL:     strings.TrimSpace(getEnv("DATABASE_URL", "")),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	// Parse upstream URL
	upstreamRaw := getEnv("UPSTREAM_URL", "http://localhost:8080")
	upstreamURL, err := url.Parse(upstreamRaw)
	if err != nil {
		return nil, fmt.Errorf("config: invalid UPSTREAM_URL %q: %w", upstreamRaw, err)
	}
	cfg.UpstreamURL = upstreamURL

	// Apply per-tier overrides to the built-in tier table, e.g.
	// TIER_SCRAPER_LIMIT=10 TIER_SCRAPER_WINDOW_SECONDS=30.
	cfg.Policies = tier.DefaultPolicies()
	for i, p := range cfg.Policies {
		envName := strings.ToUpper(p.Name)

		cfg.Policies[i].MaxRequests = getEnvInt64("TIER_"+envName+"_LIMIT", p.MaxRequests)

		seconds := getEnvInt("TIER_"+envName+"_WINDOW_SECONDS", int(p.Window.Seconds()))
		cfg.Policies[i].Window = time.Duration(seconds) * time.Second
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent and safe.
func (c *Config) Validate() error {
	if c.UpstreamURL == nil {
		return fmt.Errorf("config: UPSTREAM_URL is required")
	}
	if c.UpstreamURL.Scheme != "http" && c.UpstreamURL.Scheme != "https" {
		return fmt.Errorf("config: UPSTREAM_URL scheme must be http or https, got %q", c.UpstreamURL.Scheme)
	}
	if c.UpstreamURL.Host == "" {
		return fmt.Errorf("config: UPSTREAM_URL must include a host")
	}
	if c.QuotaBackend != BackendMemory && c.QuotaBackend != BackendRedis {
		return fmt.Errorf("config: QUOTA_BACKEND must be one of: memory, redis; got %q", c.QuotaBackend)
	}
	if c.QuotaBackend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("config: REDIS_ADDR is required when QUOTA_BACKEND=redis")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("config: STORE_TIMEOUT must be > 0")
	}
	if c.AdminAPIToken == "change-me" {
		return fmt.Errorf("config: ADMIN_API_TOKEN must be changed from default value")
	}

	for _, p := range c.Policies {
		if p.MaxRequests <= 0 {
			return fmt.Errorf("config: TIER_%s_LIMIT must be > 0", strings.ToUpper(p.Name))
		}
		if p.Window <= 0 {
			return fmt.Errorf("config: TIER_%s_WINDOW_SECONDS must be > 0", strings.ToUpper(p.Name))
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("config: LOG_LEVEL must be one of: debug, info, warn, error; got %q", c.LogLevel)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
