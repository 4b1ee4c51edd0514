package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloom-paywall/server/internal/circuitbreaker"
	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/httputil"
	"github.com/bloom-paywall/server/internal/metrics"
)

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	MaxAttempts     int           // Maximum retry attempts (default: 5)
	InitialInterval time.Duration // Initial backoff interval (default: 1s)
	MaxInterval     time.Duration // Maximum backoff interval (default: 5m)
	Multiplier      float64       // Backoff multiplier (default: 2.0)
	Timeout         time.Duration // Per-attempt timeout (default: 10s)
}

// DefaultRetryConfig returns sensible defaults for webhook retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts payment events with exponential backoff retry logic.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	breaker    *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithBreaker routes deliveries through the webhook circuit breaker.
func WithBreaker(manager *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) {
		c.breaker = manager
	}
}

// WithMetrics sets the metrics collector for webhook observability.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// NewRetryableClient constructs a callback client with retry support.
// Returns NoopNotifier when no callback URL is configured.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) Notifier {
	if cfg.PaymentSuccessURL == "" {
		return NoopNotifier{}
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &RetryableClient{
		cfg:        cfg,
		retryCfg:   retryConfigFrom(cfg.Retry),
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// retryConfigFrom maps the YAML retry section onto RetryConfig, keeping
// defaults for unset values.
func retryConfigFrom(cfg config.RetryConfig) RetryConfig {
	out := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		out.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval.Duration > 0 {
		out.InitialInterval = cfg.InitialInterval.Duration
	}
	if cfg.MaxInterval.Duration > 0 {
		out.MaxInterval = cfg.MaxInterval.Duration
	}
	if cfg.Multiplier > 0 {
		out.Multiplier = cfg.Multiplier
	}
	return out
}

// PaymentSucceeded dispatches the payment event asynchronously with retry logic.
// IMPORTANT: EventID is generated once and preserved across all retry attempts for idempotency.
func (c *RetryableClient) PaymentSucceeded(ctx context.Context, event PaymentEvent) {
	if c == nil || c.cfg.PaymentSuccessURL == "" {
		return
	}

	// Prepare idempotency fields BEFORE serialization so the same EventID
	// is used for all retry attempts.
	PreparePaymentEvent(&event)

	go func() {
		// Retries off means a single fire-and-forget delivery.
		if !c.cfg.Retry.Enabled {
			start := time.Now()
			err := SendOnce(context.Background(), c.cfg, event)
			if c.metrics != nil {
				status := "success"
				if err != nil {
					status = "failed"
				}
				c.metrics.ObserveWebhook("payment", status, time.Since(start), 1)
			}
			if err != nil {
				c.logger.Error().
					Err(err).
					Str("event_id", event.EventID).
					Msg("callbacks: payment webhook failed")
			}
			return
		}

		payload, err := json.Marshal(event)
		if err != nil {
			c.logger.Error().Err(err).Msg("callbacks: failed to serialize payment event")
			return
		}

		if err := c.sendWithRetry(context.Background(), payload, "payment"); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", event.EventID).
				Msg("callbacks: payment webhook failed after all retries")
		}
	}()
}

// sendWithRetry attempts to send the webhook with exponential backoff.
func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte, eventType string) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	startTime := time.Now()

	for attempt := 1; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.deliver(reqCtx, payload)
		cancel()

		if err == nil {
			if c.metrics != nil {
				c.metrics.ObserveWebhook(eventType, "success", time.Since(startTime), attempt)
			}
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Str("eventType", eventType).
					Msg("callbacks: webhook succeeded after retry")
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", c.retryCfg.MaxAttempts).
			Str("eventType", eventType).
			Dur("nextRetry", interval).
			Msg("callbacks: webhook attempt failed")

		// Don't sleep after the last attempt
		if attempt < c.retryCfg.MaxAttempts {
			time.Sleep(interval)
			// Exponential backoff with max cap
			interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
			if interval > c.retryCfg.MaxInterval {
				interval = c.retryCfg.MaxInterval
			}
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveWebhook(eventType, "failed", time.Since(startTime), c.retryCfg.MaxAttempts)
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

// deliver performs one delivery attempt, through the circuit breaker when configured.
func (c *RetryableClient) deliver(ctx context.Context, payload []byte) error {
	if c.breaker == nil {
		return c.sendHTTP(ctx, payload)
	}
	_, err := c.breaker.Execute(circuitbreaker.ServiceWebhook, func() (interface{}, error) {
		return nil, c.sendHTTP(ctx, payload)
	})
	return err
}

// sendHTTP performs the actual HTTP request.
func (c *RetryableClient) sendHTTP(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PaymentSuccessURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := c.cfg.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	for k, v := range c.cfg.Headers {
		if k == "" {
			continue
		}
		if strings.EqualFold(k, "content-type") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, c.cfg.PaymentSuccessURL)
	}

	return nil
}
