package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stimlog/internal/api"
	"stimlog/internal/config"
	"stimlog/internal/credentials"
	"stimlog/internal/display"
	"stimlog/internal/recorder"
	"stimlog/internal/storage"
	"stimlog/internal/telemetry"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	if err := config.LoadEnvFile(cfg.Credentials.EnvFile); err != nil {
		log.Fatal().Err(err).Msg("failed to load env file")
	}
	cfg.ApplyEnv()

	metrics := telemetry.NewMetrics()
	connector := storage.NewConnector(cfg.Database)

	// The login dialog draws on stderr so stdout stays clean for piping.
	session := recorder.NewSession(recorder.Options{
		Provider: credentials.NewProvider(cfg.Credentials, os.Stdin, os.Stderr),
		Connector: credentials.ConnectFunc[recorder.Store](func(ctx context.Context, c credentials.Credentials) (recorder.Store, error) {
			db, err := connector.Connect(ctx, c.User, c.Password)
			if err != nil {
				return nil, err
			}
			return db, nil
		}),
		Display:     display.NewQuerier(cfg.Display),
		MaxAttempts: cfg.Credentials.MaxAttempts,
		Metrics:     metrics,
		Tracer:      telemetry.NewTracer(),
	})

	handlers := api.NewHandlers(session, metrics)
	server := api.NewServer(cfg, handlers, metrics)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		if n := handlers.PendingCount(); n > 0 {
			if !cfg.Server.FlushOnShutdown {
				log.Warn().Int("pending", n).Msg("exiting with unflushed records")
				return
			}
			// No deadline: the flush may be waiting on the login dialog.
			if _, err := handlers.Flush(context.Background()); err != nil {
				log.Error().Err(err).Int("pending", n).Msg("final flush failed")
			}
		}
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("database", cfg.Database.Name).
		Str("credentials", cfg.Credentials.Mode).
		Str("display", cfg.Display.Source).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	<-done
	log.Info().Msg("server stopped")
}
