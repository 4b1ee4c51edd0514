package callbacks

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/httputil"
)

// Notifier delivers payment events to operator-defined callbacks.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, event PaymentEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) PaymentSucceeded(context.Context, PaymentEvent) {}

// PaymentEvent encapsulates the essential information about a verified payment
// that unlocked a piece of content.
// IMPORTANT: EventID is the idempotency key - webhook consumers MUST use this to prevent duplicate processing.
type PaymentEvent struct {
	// Idempotency and event metadata (ALWAYS present)
	EventID        string    `json:"eventId"`        // Unique event identifier for idempotency (e.g., "evt_abc123")
	EventType      string    `json:"eventType"`      // Always "payment.succeeded" for this event
	EventTimestamp time.Time `json:"eventTimestamp"` // ISO8601 timestamp when event was created (UTC)

	// Payment details
	ContentID     string            `json:"contentId"`
	TransactionID string            `json:"transactionId"`
	UserAddress   string            `json:"userAddress"`
	Amount        string            `json:"amount"` // atomic stablecoin units, decimal string
	Token         string            `json:"token,omitempty"`
	Network       string            `json:"network,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PaidAt        time.Time         `json:"paidAt"`
}

// ErrCallbackDisabled is returned when callbacks are not configured.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

// generateEventID creates a unique event identifier for idempotency.
// Format: "evt_" + 24 hex characters (12 random bytes)
func generateEventID() string {
	randomBytes := make([]byte, 12)
	if _, err := rand.Read(randomBytes); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails (extremely rare)
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(randomBytes)
}

// PreparePaymentEvent ensures PaymentEvent has required idempotency fields set.
// If EventID is already set, it's preserved (for retries). If not, a new one is generated.
func PreparePaymentEvent(event *PaymentEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.EventType == "" {
		event.EventType = "payment.succeeded"
	}
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = time.Now().UTC()
	}
	if event.PaidAt.IsZero() {
		event.PaidAt = time.Now().UTC()
	}
}

// SendOnce delivers a payment event in a single attempt. The retry client
// uses it when retries are disabled; it also suits manual delivery tooling.
func SendOnce(ctx context.Context, cfg config.CallbacksConfig, event PaymentEvent) error {
	if cfg.PaymentSuccessURL == "" {
		return ErrCallbackDisabled
	}

	PreparePaymentEvent(&event)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := httputil.NewClient(timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.PaymentSuccessURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := cfg.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	for k, v := range cfg.Headers {
		if k == "" || k == "Content-Type" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, cfg.PaymentSuccessURL)
	}

	return nil
}
