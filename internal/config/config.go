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
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement settings
	Currency            string        // ISO currency code for all amounts
	EscrowHoldPeriod    time.Duration // how long funds stay held before auto-release
	EscrowSweepInterval time.Duration // how often the auto-release sweep runs
	EscrowSweepBatch    int           // max escrows released per sweep

	// MTN Mobile Money (collections + disbursements)
	MoMoBaseURL         string
	MoMoSubscriptionKey string // collection product key
	MoMoDisbursementKey string // disbursement product key
	MoMoAPIUser         string
	MoMoAPIKey          string
	MoMoTargetEnv       string // "sandbox" or "mtnrwanda"
	MoMoCallbackURL     string

	// Card payments
	StripeSecretKey string

	// Receipts
	PlatformFeePercent   int    // platform commission applied on receipts
	TaxPercent           int    // VAT applied on receipts
	ReceiptSigningSecret string // HMAC key for receipt signatures (empty disables signing)

	// Security
	RateLimitRPS int
	AdminSecret  string // Admin API secret
}

// Rwanda deployment defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultCurrency      = "RWF"
	DefaultHoldHours     = 24
	DefaultSweepInterval = 10 * time.Minute
	DefaultSweepBatch    = 100
	DefaultMoMoBaseURL   = "https://sandbox.momodeveloper.mtn.com"
	DefaultMoMoTargetEnv = "sandbox"
	DefaultFeePercent    = 5
	DefaultTaxPercent    = 18
	DefaultRateLimit     = 100
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
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		Currency:             getEnv("CURRENCY", DefaultCurrency),
		EscrowHoldPeriod:     time.Duration(getEnvInt64("ESCROW_HOLD_HOURS", DefaultHoldHours)) * time.Hour,
		EscrowSweepInterval:  getEnvDuration("ESCROW_SWEEP_INTERVAL", DefaultSweepInterval),
		EscrowSweepBatch:     int(getEnvInt64("ESCROW_SWEEP_BATCH", DefaultSweepBatch)),
		MoMoBaseURL:          getEnv("MOMO_BASE_URL", DefaultMoMoBaseURL),
		MoMoSubscriptionKey:  os.Getenv("MOMO_SUBSCRIPTION_KEY"),
		MoMoDisbursementKey:  os.Getenv("MOMO_DISBURSEMENT_KEY"),
		MoMoAPIUser:          os.Getenv("MOMO_API_USER"),
		MoMoAPIKey:           os.Getenv("MOMO_API_KEY"),
		MoMoTargetEnv:        getEnv("MOMO_TARGET_ENV", DefaultMoMoTargetEnv),
		MoMoCallbackURL:      os.Getenv("MOMO_CALLBACK_URL"),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		PlatformFeePercent:   int(getEnvInt64("PLATFORM_FEE_PERCENT", DefaultFeePercent)),
		TaxPercent:           int(getEnvInt64("TAX_PERCENT", DefaultTaxPercent)),
		ReceiptSigningSecret: os.Getenv("RECEIPT_SIGNING_SECRET"),
		RateLimitRPS:         int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.EscrowHoldPeriod <= 0 {
		return fmt.Errorf("ESCROW_HOLD_HOURS must be positive")
	}
	if c.EscrowSweepInterval <= 0 {
		return fmt.Errorf("ESCROW_SWEEP_INTERVAL must be positive")
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100")
	}
	if c.TaxPercent < 0 || c.TaxPercent > 100 {
		return fmt.Errorf("TAX_PERCENT must be between 0 and 100")
	}

	// Production deployments settle real money; refuse to start half-configured.
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.MoMoSubscriptionKey == "" || c.MoMoAPIUser == "" || c.MoMoAPIKey == "" {
			return fmt.Errorf("MOMO_SUBSCRIPTION_KEY, MOMO_API_USER and MOMO_API_KEY are required in production")
		}
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
