// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

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

	// Escrow settings
	ProtocolFeeRateBps     uint32 // protocol share accrued on every release, bps of 10000
	CompletionThresholdBps uint32 // released share of the principal that marks a service finished
	ProtocolTreasuryID     int64  // profile allowed to claim the protocol fee balance

	// Dispute settings
	DefaultArbitrationFeeTimeout time.Duration // fallback when a platform configures none
	DisputeSweepInterval         time.Duration // timeout worker tick

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint, tracing disabled when empty
	RateLimitRPS int

	// Capability seed: profile granted pause/unpause and protocol claim
	OperatorID int64
}

// Defaults
const (
	DefaultPort                   = "8080"
	DefaultEnv                    = "development"
	DefaultLogLevel               = "info"
	DefaultProtocolFeeRateBps     = 100  // 1%
	DefaultCompletionThresholdBps = 3000 // 30%
	DefaultRateLimit              = 100
	DefaultArbitrationFeeTimeout  = 24 * time.Hour
	DefaultDisputeSweepInterval   = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                         getEnv("PORT", DefaultPort),
		Env:                          getEnv("ENV", DefaultEnv),
		LogLevel:                     getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:                  os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ProtocolFeeRateBps:           uint32(getEnvInt64("PROTOCOL_FEE_RATE_BPS", DefaultProtocolFeeRateBps)),
		CompletionThresholdBps:       uint32(getEnvInt64("COMPLETION_THRESHOLD_BPS", DefaultCompletionThresholdBps)),
		ProtocolTreasuryID:           getEnvInt64("PROTOCOL_TREASURY_ID", 0),
		DefaultArbitrationFeeTimeout: getEnvDuration("ARBITRATION_FEE_TIMEOUT", DefaultArbitrationFeeTimeout),
		DisputeSweepInterval:         getEnvDuration("DISPUTE_SWEEP_INTERVAL", DefaultDisputeSweepInterval),
		OTLPEndpoint:                 os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS:                 int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OperatorID:                   getEnvInt64("OPERATOR_PROFILE_ID", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are sane
func (c *Config) Validate() error {
	if c.ProtocolFeeRateBps > 10000 {
		return fmt.Errorf("PROTOCOL_FEE_RATE_BPS must be <= 10000, got %d", c.ProtocolFeeRateBps)
	}

	if c.CompletionThresholdBps > 10000 {
		return fmt.Errorf("COMPLETION_THRESHOLD_BPS must be <= 10000, got %d", c.CompletionThresholdBps)
	}

	if c.DefaultArbitrationFeeTimeout <= 0 {
		return fmt.Errorf("ARBITRATION_FEE_TIMEOUT must be positive")
	}

	if c.DisputeSweepInterval <= 0 {
		return fmt.Errorf("DISPUTE_SWEEP_INTERVAL must be positive")
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
