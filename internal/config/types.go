package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Verification   VerificationConfig   `yaml:"verification"`
	Content        ContentConfig        `yaml:"content"`
	Storage        StorageConfig        `yaml:"storage"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api", "/bloom")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// VerificationConfig holds the on-chain payment verification policy.
//
// PlatformWallet is the only acceptable transfer recipient; verification
// cannot proceed without it, so its absence is a startup error.
type VerificationConfig struct {
	Network               string   `yaml:"network"`                // EVM network name (ethereum, base, sepolia, ...)
	RPCURL                string   `yaml:"rpc_url"`                // JSON-RPC endpoint of a full node / provider
	PlatformWallet        string   `yaml:"platform_wallet"`        // Required: address that receives all content payments
	StablecoinAddress     string   `yaml:"stablecoin_address"`     // Optional override of the network's canonical USDC contract
	MaxProofAge           Duration `yaml:"max_proof_age"`          // Maximum age of a payment proof (default: 30m)
	RequiredConfirmations uint64   `yaml:"required_confirmations"` // Block confirmations before a payment is final (default: 3)
	RPCTimeout            Duration `yaml:"rpc_timeout"`            // Per-call timeout for RPC reads (default: 10s)

	// RequireSignatureVerification gates a cryptographic check of the proof's
	// signature field. The scheme is not finalized; the flag exists so the
	// step can be toggled on without an API change, and is a no-op today.
	RequireSignatureVerification bool `yaml:"require_signature_verification"`
}

// ContentConfig holds the paywalled content catalog.
type ContentConfig struct {
	Resources map[string]ContentResource `yaml:"resources"`
}

// ContentResource defines a single piece of paywalled content with pricing.
// Prices use atomic stablecoin units encoded as decimal strings to avoid
// precision loss across config/JSON boundaries.
type ContentResource struct {
	ContentID   string            `yaml:"content_id"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Creator     string            `yaml:"creator"`      // creator wallet, informational
	PriceAtomic string            `yaml:"price_atomic"` // required price in smallest token units
	Metadata    map[string]string `yaml:"metadata"`
}

// StorageConfig holds the replay-protection store configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"`          // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string             `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string             `yaml:"mongodb_database"` // MongoDB database name
	TableName       string             `yaml:"table_name"`       // Custom table/collection name (default: payment_usages)
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`    // PostgreSQL connection pool settings
	Archival        ArchivalConfig     `yaml:"archival"`         // Automatic archival of old usage records
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// ArchivalConfig holds automatic usage-record archival configuration.
// Consumed payments only need to be remembered while a proof referencing them
// could still be fresh; everything older can be deleted.
type ArchivalConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable automatic archival (default: false)
	RetentionPeriod Duration `yaml:"retention_period"` // How long to keep usage records (default: 90 days)
	RunInterval     Duration `yaml:"run_interval"`     // How often to run archival (default: 24 hours)
}

// CallbacksConfig holds webhook callback configuration.
type CallbacksConfig struct {
	PaymentSuccessURL string            `yaml:"payment_success_url"`
	Headers           map[string]string `yaml:"headers"`
	Timeout           Duration          `yaml:"timeout"`
	Retry             RetryConfig       `yaml:"retry"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable retry with exponential backoff (default: true)
	MaxAttempts     int      `yaml:"max_attempts"`     // Maximum retry attempts (default: 5)
	InitialInterval Duration `yaml:"initial_interval"` // Initial backoff interval (default: 1s)
	MaxInterval     Duration `yaml:"max_interval"`     // Maximum backoff interval (default: 5m)
	Multiplier      float64  `yaml:"multiplier"`       // Backoff multiplier (default: 2.0)
}

// RateLimitConfig holds rate limiting configuration.
// Provides multi-tier rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-wallet rate limiting (identified by X-Wallet header)
	PerWalletEnabled bool     `yaml:"per_wallet_enabled"`
	PerWalletLimit   int      `yaml:"per_wallet_limit"`
	PerWalletWindow  Duration `yaml:"per_wallet_window"`

	// Per-IP rate limiting (fallback when wallet not identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when external services are degraded.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"` // Enable circuit breakers (default: true)
	EVMRPC  BreakerServiceConfig `yaml:"evm_rpc"` // EVM JSON-RPC circuit breaker
	Webhook BreakerServiceConfig `yaml:"webhook"` // Webhook delivery circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
