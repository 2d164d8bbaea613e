// Package main provides the entrypoint for the psptrack background worker.
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

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/api/middleware"
	"github.com/psptrack/psptrack/internal/api/response"
	"github.com/psptrack/psptrack/internal/bootstrap"
	"github.com/psptrack/psptrack/internal/config"
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

const serviceName = "psptrack-worker"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// The file and memory stores belong to a single process.
	if cfg.Storage.Backend != config.StoragePostgres {
		return fmt.Errorf("worker needs STORAGE_BACKEND=%s, got %q; set WORKER_EMBEDDED=true on the API instead",
			config.StoragePostgres, cfg.Storage.Backend)
	}

	log.Info().Str("build_time", BuildTime).Msg("starting psptrack worker")

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

	trackingMetrics, err := tracking.NewMetrics()
	if err != nil {
		return err
	}

	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close(context.Background()) //nolint:errcheck // shutdown

	source, err := bootstrap.NewSource(cfg, upstream.NewRegistry(), log)
	if err != nil {
		return err
	}

	positions := tracking.NewService(tracking.Config{
		Devices:       storage.Devices,
		Source:        source,
		MaxAge:        cfg.Tracking.MaxAge,
		MaxPositions:  cfg.Tracking.MaxPositions,
		SourceTimeout: cfg.Tracking.SourceTimeout,
		Logger:        log,
		Metrics:       trackingMetrics,
	})

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Concurrency: cfg.Worker.Concurrency,
			Timeout:     cfg.Worker.RequestTimeout,
			Interval:    cfg.Worker.Interval,
		},
		Devices:   storage.Devices,
		Refresher: positions,
		Logger:    log,
	})

	healthCheck := func(ctx context.Context) error {
		for _, c := range storage.Checks {
			if err := c.Check(ctx); err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
		}
		return nil
	}

	server := &http.Server{
		Addr:              ":" + cfg.Worker.HealthPort,
		Handler:           healthRouter(job, healthCheck, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	go job.RunEvery(ctx)

	if cfg.Worker.PubSubProject != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Worker.PubSubProject,
			SubscriptionName: cfg.Worker.PubSubSub,
			Dispatcher:       worker.NewDispatcher(job, healthCheck, log),
			Logger:           log,
		})
		if err != nil {
			return err
		}
		defer handler.Close() //nolint:errcheck // shutdown

		go func() {
			if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pubsub handler stopped")
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
	return nil
}

func healthRouter(job *worker.RefreshJob, check func(context.Context) error, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]any{
			"status":  "OK",
			"version": Version,
			"refresh": job.MetricsSnapshot(),
		})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			response.ServiceUnavailable(w, r, err.Error())
			return
		}
		response.OK(w, r)
	})
	return r
}
