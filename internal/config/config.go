// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Gateway settings
	UpgradeURL     string // Sent in quota_exceeded responses
	MaxRequestSize int64  // Request body cap in bytes
	RateLimitRPM   int    // Per-IP protective limit, separate from plan limits
	CORSOrigins    []string

	// Session guard policy
	SessionActiveWindow time.Duration // How recently a session must be seen to count as active
	AutoLockThreshold   int           // Warnings before auto temp-lock; 0 disables auto-lock

	// Webhooks
	WebhookMaxAttempts  int
	WebhookDisableAfter int // Consecutive delivery failures before an endpoint is disabled

	// Admin API
	AdminAPIKey string // Required in production; guards /api/v1/admin and /ws/feed
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultUpgradeURL          = "https://textsmith.dev/pricing"
	DefaultMaxRequestSize      = 1 << 20 // 1MB
	DefaultRateLimitRPM        = 300
	DefaultSessionWindow       = 24 * time.Hour
	DefaultWebhookMaxAttempts  = 3
	DefaultWebhookDisableAfter = 10
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		UpgradeURL:          getEnv("UPGRADE_URL", DefaultUpgradeURL),
		MaxRequestSize:      getEnvInt64("MAX_REQUEST_SIZE", DefaultMaxRequestSize),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:         getEnvList("CORS_ORIGINS"),
		SessionActiveWindow: getEnvDuration("SESSION_ACTIVE_WINDOW", DefaultSessionWindow),
		AutoLockThreshold:   int(getEnvInt64("AUTO_LOCK_THRESHOLD", 0)),
		WebhookMaxAttempts:  int(getEnvInt64("WEBHOOK_MAX_ATTEMPTS", DefaultWebhookMaxAttempts)),
		WebhookDisableAfter: int(getEnvInt64("WEBHOOK_DISABLE_AFTER", DefaultWebhookDisableAfter)),
		AdminAPIKey:         os.Getenv("ADMIN_API_KEY"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("MAX_REQUEST_SIZE must be positive")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.SessionActiveWindow <= 0 {
		return fmt.Errorf("SESSION_ACTIVE_WINDOW must be positive")
	}
	if c.AutoLockThreshold < 0 {
		return fmt.Errorf("AUTO_LOCK_THRESHOLD must not be negative")
	}
	if c.IsProduction() && c.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
