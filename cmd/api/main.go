// Package main provides the entrypoint for the psptrack API server.
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

	"github.com/psptrack/psptrack/internal/api"
	"github.com/psptrack/psptrack/internal/api/handler"
	"github.com/psptrack/psptrack/internal/api/middleware"
	"github.com/psptrack/psptrack/internal/auth"
	"github.com/psptrack/psptrack/internal/bootstrap"
	"github.com/psptrack/psptrack/internal/config"
	"github.com/psptrack/psptrack/internal/device"
	"github.com/psptrack/psptrack/internal/telemetry"
	"github.com/psptrack/psptrack/internal/tracking"
	"github.com/psptrack/psptrack/internal/upstream"
	"github.com/psptrack/psptrack/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "psptrack-api"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("api server failed")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Environment == "development" {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("storage", cfg.Storage.Backend).
		Str("sessions", cfg.Session.Backend).
		Str("source", cfg.Tracking.Source).
		Msg("starting psptrack API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if tp.Enabled() {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}
	trackingMetrics, err := tracking.NewMetrics()
	if err != nil {
		return err
	}

	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := storage.Close(closeCtx); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close storage")
		}
	}()

	sessions, err := bootstrap.OpenSessions(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sessions.Close() //nolint:errcheck // shutdown
	go sessions.SweepEvery(ctx, time.Minute, log)

	upstreams := upstream.NewRegistry()
	source, err := bootstrap.NewSource(cfg, upstreams, log)
	if err != nil {
		return err
	}

	authService := auth.NewService(auth.ServiceConfig{
		Users:      storage.Users,
		Sessions:   sessions.Store,
		SessionTTL: cfg.Session.TTL,
		BcryptCost: cfg.BcryptCost,
		Logger:     log,
	})
	registry := device.NewRegistry(device.RegistryConfig{
		Devices:  storage.Devices,
		Users:    storage.Users,
		Verifier: source,
		Logger:   log,
	})
	positions := tracking.NewService(tracking.Config{
		Devices:       storage.Devices,
		Source:        source,
		MaxAge:        cfg.Tracking.MaxAge,
		MaxPositions:  cfg.Tracking.MaxPositions,
		SourceTimeout: cfg.Tracking.SourceTimeout,
		Logger:        log,
		Metrics:       trackingMetrics,
	})

	if cfg.Worker.Embedded {
		job := worker.NewRefreshJob(worker.RefreshJobConfig{
			Config: worker.RefreshConfig{
				Concurrency: cfg.Worker.Concurrency,
				Timeout:     cfg.Worker.RequestTimeout,
				Interval:    cfg.Worker.Interval,
			},
			Devices:   storage.Devices,
			Refresher: positions,
			Logger:    log.With().Str("component", "worker").Logger(),
		})
		go job.RunEvery(ctx)
		log.Info().Dur("interval", cfg.Worker.Interval).Msg("embedded refresh worker started")
	}

	checks := make([]handler.Check, 0, len(storage.Checks)+len(sessions.Checks))
	checks = append(checks, storage.Checks...)
	checks = append(checks, sessions.Checks...)

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    httpMetrics,
		Auth:       authService,
		Registry:   registry,
		Positions:  positions,
		Checks:     checks,
		Upstreams:  upstreams,
		RequireTLS: cfg.RequireTLS,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}
