package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/logger"
	"github.com/bloom-paywall/server/pkg/bloom"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; environment overrides still apply without it.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New(logger.Config{Format: "console"})
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "bloom-paywall",
		Environment: cfg.Logging.Environment,
	})

	app, err := bloom.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble application")
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
		Handler:      app.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.Server.Address).
			Str("network", cfg.Verification.Network).
			Str("platform_wallet", logger.TruncateHash(cfg.Verification.PlatformWallet)).
			Msg("server starting")
		errChan <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}

	if err := app.Close(); err != nil {
		log.Error().Err(err).Msg("resource cleanup failed")
	}
	log.Info().Msg("server stopped")
}
