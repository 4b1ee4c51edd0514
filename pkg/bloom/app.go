package bloom

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/bloom-paywall/server/internal/callbacks"
	"github.com/bloom-paywall/server/internal/circuitbreaker"
	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/content"
	"github.com/bloom-paywall/server/internal/httpserver"
	"github.com/bloom-paywall/server/internal/lifecycle"
	"github.com/bloom-paywall/server/internal/logger"
	"github.com/bloom-paywall/server/internal/metrics"
	"github.com/bloom-paywall/server/internal/storage"
	"github.com/bloom-paywall/server/pkg/proofs"
	"github.com/bloom-paywall/server/pkg/proofs/evm"
)

// App wires the Bloom paywall components for reuse or standalone serving.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Verifier proofs.Verifier
	Notifier callbacks.Notifier
	Contents content.Repository
	Breakers *circuitbreaker.Manager

	router           chi.Router
	chain            evm.ChainReader
	archival         *storage.ArchivalService
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store    storage.Store
	notifier callbacks.Notifier
	verifier proofs.Verifier
	chain    evm.ChainReader
	router   chi.Router
}

// WithStore sets a custom replay-protection storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithNotifier injects a payment callback notifier.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithVerifier injects a custom proof verifier.
func WithVerifier(verifier proofs.Verifier) Option {
	return func(o *options) {
		o.verifier = verifier
	}
}

// WithChainReader injects a custom chain reader, replacing the RPC client.
func WithChainReader(chain evm.ChainReader) Option {
	return func(o *options) {
		o.chain = chain
	}
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// NewApp assembles the Bloom paywall services for embedding.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bloom: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	app.metricsCollector = metricsCollector
	app.Breakers = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	if optState.store != nil {
		app.Store = optState.store
	} else {
		storeCfg := storage.FromConfig(cfg.Storage)
		storeCfg.Metrics = metricsCollector
		store, err := storage.NewStore(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		app.Store = store
		app.resourceManager.Register("storage", store)
		if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
			log.Warn().
				Msg("bloom: using in-memory replay store, consumed payments are lost on restart")
		}
	}

	if optState.notifier != nil {
		app.Notifier = optState.notifier
	} else {
		app.Notifier = callbacks.NewRetryableClient(cfg.Callbacks,
			callbacks.WithRetryConfig(callbacks.RetryConfig{
				MaxAttempts:     cfg.Callbacks.Retry.MaxAttempts,
				InitialInterval: cfg.Callbacks.Retry.InitialInterval.Duration,
				MaxInterval:     cfg.Callbacks.Retry.MaxInterval.Duration,
				Multiplier:      cfg.Callbacks.Retry.Multiplier,
				Timeout:         cfg.Callbacks.Timeout.Duration,
			}),
			callbacks.WithBreaker(app.Breakers),
			callbacks.WithMetrics(metricsCollector),
		)
	}

	if optState.chain != nil {
		app.chain = optState.chain
	} else if optState.verifier == nil || cfg.Verification.RPCURL != "" {
		client, err := evm.NewClient(cfg.Verification.RPCURL, cfg.Verification.Network,
			evm.WithTimeout(cfg.Verification.RPCTimeout.Duration),
			evm.WithBreaker(app.Breakers),
			evm.WithMetrics(metricsCollector),
		)
		if err != nil {
			return nil, fmt.Errorf("init rpc client: %w", err)
		}
		app.chain = client
		app.resourceManager.Register("rpc-client", client)
	}

	if optState.verifier != nil {
		app.Verifier = optState.verifier
	} else {
		verifier, err := evm.NewVerifier(app.chain, app.Store, proofs.VerificationConfig{
			Network:                      cfg.Verification.Network,
			ChainID:                      cfg.ChainID(),
			PlatformWallet:               cfg.Verification.PlatformWallet,
			StablecoinAddress:            cfg.Verification.StablecoinAddress,
			MaxProofAge:                  cfg.Verification.MaxProofAge.Duration,
			RequiredConfirmations:        cfg.Verification.RequiredConfirmations,
			RequireSignatureVerification: cfg.Verification.RequireSignatureVerification,
		}, evm.WithVerifierMetrics(metricsCollector))
		if err != nil {
			return nil, fmt.Errorf("init verifier: %w", err)
		}
		app.Verifier = verifier
	}

	contents, err := content.NewConfigRepository(cfg.Content)
	if err != nil {
		return nil, err
	}
	app.Contents = contents

	if cfg.Storage.Archival.Enabled {
		app.archival = storage.NewArchivalService(app.Store, storage.ArchivalConfig{
			Enabled:         true,
			RetentionPeriod: cfg.Storage.Archival.RetentionPeriod.Duration,
			RunInterval:     cfg.Storage.Archival.RunInterval.Duration,
		}, metricsCollector, log.Logger)
		app.archival.Start()
		app.resourceManager.RegisterFunc("archival", func() error {
			app.archival.Stop()
			return nil
		})
	}

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "bloom-paywall",
		Environment: cfg.Logging.Environment,
	})

	httpserver.ConfigureRouter(app.router, cfg, app.Contents, app.Verifier, app.chain, app.Notifier, metricsCollector, appLogger)

	return app, nil
}

// Router returns the chi router with paywall routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources owned by the app in reverse registration order.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the paywall.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
