// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment processor
	StripeAPIKey   string // Secret key for the Stripe payment collaborator
	PlatformFeePct string // Platform fee as a decimal fraction, e.g. "0.10"

	// Lifecycle events
	KafkaBrokers []string // Empty disables the Kafka lifecycle publisher
	KafkaTopic   string

	// Archival
	ArchiveRetentionDays int // Days a terminal booking is kept before archival

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector address; empty disables tracing

	// Security
	AdminSecret  string // X-Admin-Secret header value for admin routes
	RateLimitRPS int
}

const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultFeePct     = "0.10"
	DefaultKafkaTopic = "booking.lifecycle"
	DefaultRetention  = 90
	DefaultRateLimit  = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeAPIKey:         os.Getenv("STRIPE_API_KEY"),
		PlatformFeePct:       getEnv("PLATFORM_FEE_PCT", DefaultFeePct),
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		ArchiveRetentionDays: getEnvInt("ARCHIVE_RETENTION_DAYS", DefaultRetention),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:         getEnvInt("RATE_LIMIT_RPS", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PlatformFeePct == "" {
		return fmt.Errorf("PLATFORM_FEE_PCT must not be empty")
	}
	if c.ArchiveRetentionDays <= 0 {
		return fmt.Errorf("ARCHIVE_RETENTION_DAYS must be positive")
	}
	if c.IsProduction() && c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required in production")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
