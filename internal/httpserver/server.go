package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bloom-paywall/server/internal/callbacks"
	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/content"
	"github.com/bloom-paywall/server/internal/logger"
	"github.com/bloom-paywall/server/internal/metrics"
	"github.com/bloom-paywall/server/internal/ratelimit"
	"github.com/bloom-paywall/server/pkg/proofs"
	"github.com/bloom-paywall/server/pkg/proofs/evm"
)

var (
	serverStartTime = time.Now()
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	contents content.Repository
	verifier proofs.Verifier
	chain    evm.ChainReader    // health probe, may be nil
	notifier callbacks.Notifier // payment-success webhooks, may be NoopNotifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, contents content.Repository, verifier proofs.Verifier, chain evm.ChainReader, notifier callbacks.Notifier, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			contents: contents,
			verifier: verifier,
			chain:    chain,
			notifier: notifier,
			metrics:  metricsCollector,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, contents, verifier, chain, notifier, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches the paywall routes to an existing router, so the
// server can be embedded into a larger application router.
func ConfigureRouter(router chi.Router, cfg *config.Config, contents content.Repository, verifier proofs.Verifier, chain evm.ChainReader, notifier callbacks.Notifier, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{
		cfg:      cfg,
		contents: contents,
		verifier: verifier,
		chain:    chain,
		notifier: notifier,
		metrics:  metricsCollector,
		logger:   appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied first for all responses)
	router.Use(securityHeadersMiddleware)

	// Structured logging middleware before RequestID for context propagation
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Rate limiting middleware (applied globally)
	rateLimitCfg := ratelimit.FromConfig(cfg.RateLimit, metricsCollector)
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.WalletLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	// Timeout middleware is applied per route group so health and discovery
	// endpoints are not stuck behind the verification timeout.
	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with 5s timeout
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/bloom-health", handler.health)
		// Prometheus metrics, protected by an optional admin API key
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Verification endpoints with 60s timeout: confirmation checks can wait
	// on slow RPC providers.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get(prefix+"/paywall/v1/content", handler.listContent)
		r.Post(prefix+"/paywall/v1/quote", handler.paywallQuote)
		r.Post(prefix+"/paywall/v1/verify", handler.paywallVerify)
		r.Get(prefix+"/paywall/v1/content/{contentID}", handler.paywalledContent)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
