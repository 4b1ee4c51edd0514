package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/bloom-paywall/server/internal/config"
)

// ServiceType identifies different external services for circuit breaker isolation.
type ServiceType string

const (
	ServiceEVMRPC  ServiceType = "evm_rpc"
	ServiceWebhook ServiceType = "webhook"
)

// Manager manages circuit breakers for different external services.
// Provides bulkhead isolation - each service has its own circuit breaker
// to prevent cascading failures across service boundaries.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for all services.
type Config struct {
	// Global enable/disable toggle
	Enabled bool

	// EVM JSON-RPC circuit breaker config
	EVMRPC BreakerConfig

	// Webhook delivery circuit breaker config
	Webhook BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear the internal counts.
	// If 0, never clears. Default: 60s
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 30s
	Timeout time.Duration

	// Trip thresholds: consecutive failures, or failure ratio over a
	// minimum number of requests.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	return NewManager(Config{
		Enabled: cfg.Enabled,
		EVMRPC: BreakerConfig{
			MaxRequests:         cfg.EVMRPC.MaxRequests,
			Interval:            cfg.EVMRPC.Interval.Duration,
			Timeout:             cfg.EVMRPC.Timeout.Duration,
			ConsecutiveFailures: cfg.EVMRPC.ConsecutiveFailures,
			FailureRatio:        cfg.EVMRPC.FailureRatio,
			MinRequests:         cfg.EVMRPC.MinRequests,
		},
		Webhook: BreakerConfig{
			MaxRequests:         cfg.Webhook.MaxRequests,
			Interval:            cfg.Webhook.Interval.Duration,
			Timeout:             cfg.Webhook.Timeout.Duration,
			ConsecutiveFailures: cfg.Webhook.ConsecutiveFailures,
			FailureRatio:        cfg.Webhook.FailureRatio,
			MinRequests:         cfg.Webhook.MinRequests,
		},
	})
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		// Return manager with no breakers (pass-through)
		return m
	}

	m.breakers[ServiceEVMRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceEVMRPC), cfg.EVMRPC))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceWebhook), cfg.Webhook))

	return m
}

// Execute wraps a function call with circuit breaker protection.
// If circuit breaker is disabled or not configured for the service, executes directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
// Returns "disabled" if circuit breakers are not enabled or service not found.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// toGobreakerSettings converts our config to gobreaker.Settings.
func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
				if counts.Requests >= cfg.MinRequests {
					failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
					if failureRate >= cfg.FailureRatio {
						return true
					}
				}
			}

			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker.state_change")
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		EVMRPC: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Webhook: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             60 * time.Second, // Longer timeout for webhooks
			ConsecutiveFailures: 10,               // More tolerant for webhooks
			FailureRatio:        0.7,
			MinRequests:         20,
		},
	}
}
