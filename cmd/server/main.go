// TripSage agent service.
//
// It serves the travel agent workflows over HTTP:
//   - Workflow agents (chat, flights, stays, budget, destination, itinerary)
//   - Router classification of free-form messages
//   - Human approval gate for bookings and deletions
//   - Background sweeping of expired caches and rate-limit windows
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/config"
	"github.com/tripsage/tripsage-core/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(cfg.ZerologLevel())
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Info().Str("version", cfg.Version).Msg("🧳 TripSage agents starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer srv.Records.Close()
	defer srv.ShutdownFunc(context.Background())

	go func() {
		if err := srv.Janitor.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Retention janitor failed")
		}
	}()

	// WriteTimeout stays zero so streamed agent runs are not cut off.
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     srv.Handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
	}()

	log.Info().
		Int("port", cfg.Port).
		Msg("✈️  TripSage is ready")

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
