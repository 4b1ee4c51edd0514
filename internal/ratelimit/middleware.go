package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool
	GlobalLimit   int           // requests per window
	GlobalWindow  time.Duration // time window

	// Per-wallet rate limiting (identified by wallet address)
	PerWalletEnabled bool
	PerWalletLimit   int
	PerWalletWindow  time.Duration

	// Per-IP rate limiting (fallback when wallet not identified)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// FromConfig converts the loaded application config into limiter settings.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	return Config{
		GlobalEnabled:    cfg.GlobalEnabled,
		GlobalLimit:      cfg.GlobalLimit,
		GlobalWindow:     cfg.GlobalWindow.Duration,
		PerWalletEnabled: cfg.PerWalletEnabled,
		PerWalletLimit:   cfg.PerWalletLimit,
		PerWalletWindow:  cfg.PerWalletWindow.Duration,
		PerIPEnabled:     cfg.PerIPEnabled,
		PerIPLimit:       cfg.PerIPLimit,
		PerIPWindow:      cfg.PerIPWindow.Duration,
		Metrics:          m,
	}
}

// DefaultConfig returns sensible default rate limits.
// These are generous limits designed to stop obvious spam while not restricting legitimate use.
func DefaultConfig() Config {
	return Config{
		// Global: 1000 req/min - prevents DoS
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,

		// Per-wallet: 60 req/min (1 req/sec avg) - prevents wallet spam
		PerWalletEnabled: true,
		PerWalletLimit:   60,
		PerWalletWindow:  1 * time.Minute,

		// Per-IP: 120 req/min (2 req/sec avg) - fallback for non-wallet requests
		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  1 * time.Minute,
	}
}

// rateLimitResponse represents the JSON error response for rate limit exceeded.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// createRateLimitHandler creates a standardized rate limit handler function.
// This eliminates duplication across global, per-wallet, and per-IP limiters.
func createRateLimitHandler(
	limitType string,
	windowSeconds int,
	extractIdentifier func(*http.Request) string,
	metricsCollector *metrics.Metrics,
) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := "all"
		if extractIdentifier != nil {
			if id := extractIdentifier(r); id != "" {
				identifier = id
			}
		}

		if metricsCollector != nil {
			metricsCollector.ObserveRateLimit(limitType, identifier)
		}

		var message string
		switch limitType {
		case "global":
			message = "Global rate limit exceeded. Please try again later."
		case "per_wallet":
			if identifier != "" && identifier != "all" && identifier != "unknown" {
				message = fmt.Sprintf("Per-wallet rate limit exceeded for %s. Please try again later.", identifier)
			} else {
				message = "Rate limit exceeded. Please try again later."
			}
		case "per_ip":
			message = "IP rate limit exceeded. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}

	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(
			createRateLimitHandler(
				"global",
				int(cfg.GlobalWindow.Seconds()),
				nil, // no identifier for the global limiter
				cfg.Metrics,
			),
		),
	)
}

// WalletLimiter creates a per-wallet rate limiter middleware.
// Requests without an identifiable wallet fall back to the caller's IP key.
func WalletLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerWalletEnabled {
		return passthrough
	}

	return httprate.Limit(
		cfg.PerWalletLimit,
		cfg.PerWalletWindow,
		httprate.WithKeyFuncs(walletKeyExtractor),
		httprate.WithLimitHandler(
			createRateLimitHandler(
				"per_wallet",
				int(cfg.PerWalletWindow.Seconds()),
				extractWalletFromRequest,
				cfg.Metrics,
			),
		),
	)
}

// IPLimiter creates a per-IP rate limiter middleware (fallback).
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}

	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(
			createRateLimitHandler(
				"per_ip",
				int(cfg.PerIPWindow.Seconds()),
				func(r *http.Request) string { return r.RemoteAddr },
				cfg.Metrics,
			),
		),
	)
}

// walletKeyExtractor is a httprate.KeyFunc that extracts wallet address from request.
func walletKeyExtractor(r *http.Request) (string, error) {
	wallet := extractWalletFromRequest(r)
	if wallet == "" {
		return httprate.KeyByIP(r)
	}
	return "wallet:" + wallet, nil
}

// extractWalletFromRequest attempts to extract wallet address from various sources.
// Parsing the X-PAYMENT header here would mean JSON decoding on every request,
// so anonymous verification traffic is keyed by IP instead.
func extractWalletFromRequest(r *http.Request) string {
	if wallet := r.Header.Get("X-Wallet"); wallet != "" {
		return wallet
	}
	if wallet := r.URL.Query().Get("wallet"); wallet != "" {
		return wallet
	}
	return ""
}
