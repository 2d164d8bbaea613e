// Package bootstrap builds the storage, session and position source
// backends selected by the configuration. It is shared by the API server
// and the worker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/api/handler"
	"github.com/psptrack/psptrack/internal/auth"
	"github.com/psptrack/psptrack/internal/config"
	"github.com/psptrack/psptrack/internal/database"
	"github.com/psptrack/psptrack/internal/device"
	"github.com/psptrack/psptrack/internal/filestore"
	"github.com/psptrack/psptrack/internal/lorawan"
	"github.com/psptrack/psptrack/internal/movement"
	"github.com/psptrack/psptrack/internal/tracking"
	"github.com/psptrack/psptrack/internal/upstream"
	"github.com/psptrack/psptrack/internal/user"
)

// Source produces positions and confirms that devices exist.
type Source interface {
	tracking.Source
	device.Verifier
}

// Storage holds the user and device repositories of the configured backend.
type Storage struct {
	Users   user.Repository
	Devices device.Repository

	// Checks are readiness probes for the backend.
	Checks []handler.Check

	closers []func(context.Context) error
}

// Close releases the backend. File stores flush pending writes first.
func (s *Storage) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStorage opens the backend named by cfg.Storage.Backend.
func OpenStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return &Storage{
			Users:   user.NewInMemoryRepository(),
			Devices: device.NewInMemoryRepository(),
		}, nil

	case config.StorageFile:
		store, err := filestore.Open(filestore.Config{
			Dir:          cfg.Storage.DataDir,
			Debounce:     100 * time.Millisecond,
			MaxPositions: cfg.Tracking.MaxPositions,
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		log.Info().Str("dir", cfg.Storage.DataDir).Msg("file store opened")
		return &Storage{
			Users:   store.Users(),
			Devices: store.Devices(),
			closers: []func(context.Context) error{store.Close},
		}, nil

	case config.StoragePostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		version, err := database.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Int("schema_version", version).
			Msg("database connected")

		return &Storage{
			Users:   user.NewPostgresRepository(pool),
			Devices: device.NewPostgresRepository(pool),
			Checks:  []handler.Check{{Name: "database", Check: pool.Ping}},
			closers: []func(context.Context) error{func(context.Context) error {
				pool.Close()
				return nil
			}},
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// Sessions is the configured session store.
type Sessions struct {
	Store auth.SessionStore

	// Memory is set for the in-memory backend, which needs sweeping.
	Memory *auth.MemorySessionStore

	Checks []handler.Check
	close  func() error
}

// Close releases the backend connection, if any.
func (s *Sessions) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// SweepEvery drops expired in-memory sessions until ctx is done. It is a
// no-op for other backends.
func (s *Sessions) SweepEvery(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	if s.Memory == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Memory.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Msg("swept sessions")
			}
		}
	}
}

// OpenSessions opens the backend named by cfg.Session.Backend.
func OpenSessions(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Sessions, error) {
	switch cfg.Session.Backend {
	case config.SessionMemory:
		mem := auth.NewMemorySessionStore(nil)
		return &Sessions{Store: mem, Memory: mem}, nil

	case config.SessionRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := auth.NewRedisSessionStore(client)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close() //nolint:errcheck // best effort cleanup
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis session store connected")
		return &Sessions{
			Store:  store,
			Checks: []handler.Check{{Name: "sessions", Check: store.Ping}},
			close:  client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
}

// NewSource builds the position source named by cfg.Tracking.Source.
// Gateway clients report their health to upstreams.
func NewSource(cfg *config.Config, upstreams *upstream.Registry, log zerolog.Logger) (Source, error) {
	switch cfg.Tracking.Source {
	case config.SourceSimulator:
		states := movement.DefaultStates()
		if cfg.Simulator.StatesFile != "" {
			loaded, err := movement.LoadStates(cfg.Simulator.StatesFile)
			if err != nil {
				return nil, err
			}
			states = loaded
		}
		model, err := movement.NewModel(states, cfg.Tracking.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("movement model: %w", err)
		}
		start := movement.Point{Latitude: cfg.Simulator.StartLat, Longitude: cfg.Simulator.StartLon}
		log.Info().Int("states", len(states)).Msg("using simulated positions")
		return movement.NewSimulator(movement.SimulatorConfig{
			Model:        model,
			Start:        &start,
			InitialState: cfg.Simulator.InitialState,
		}), nil

	case config.SourceLoRaWan:
		log.Info().Str("host", cfg.LoRaWan.Host).Msg("using LoRaWan network server")
		return lorawan.NewClient(lorawan.Config{
			Host:     cfg.LoRaWan.Host,
			Email:    cfg.LoRaWan.Email,
			Password: cfg.LoRaWan.Password,
			Registry: upstreams,
			Timeout:  cfg.Tracking.SourceTimeout,
			Logger:   log,
		}), nil
	}
	return nil, fmt.Errorf("unknown position source %q", cfg.Tracking.Source)
}
