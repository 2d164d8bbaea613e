// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/psptrack/psptrack/internal/database"
)

// Storage backends.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Session backends.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Position sources.
const (
	SourceSimulator = "simulator"
	SourceLoRaWan   = "lorawan"
)

// Config is the full service configuration.
type Config struct {
	Port        string
	Environment string

	// RequireTLS rejects plain HTTP behind a proxy and marks cookies Secure.
	RequireTLS bool

	Session   SessionConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Database  database.Config
	Tracking  TrackingConfig
	Simulator SimulatorConfig
	LoRaWan   LoRaWanConfig
	Telemetry TelemetryConfig
	Worker    WorkerConfig

	BcryptCost int
}

// SessionConfig configures login sessions.
type SessionConfig struct {
	Backend string
	TTL     time.Duration
}

// RedisConfig configures the Redis session backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig selects where users and devices are kept.
type StorageConfig struct {
	Backend string
	DataDir string
}

// TrackingConfig configures the position refresh policy.
type TrackingConfig struct {
	Source        string
	MaxAge        time.Duration
	MaxPositions  int
	SourceTimeout time.Duration
}

// SimulatorConfig configures the simulated position source.
type SimulatorConfig struct {
	StatesFile   string
	StartLat     float64
	StartLon     float64
	InitialState string
}

// LoRaWanConfig holds the network server endpoint and credentials.
type LoRaWanConfig struct {
	Host     string
	Email    string
	Password string
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

// WorkerConfig configures the background refresh worker.
type WorkerConfig struct {
	Interval       time.Duration
	Concurrency    int
	PubSubProject  string
	PubSubSub      string
	HealthPort     string
	RequestTimeout time.Duration

	// Embedded runs the refresh loop inside the API process.
	Embedded bool
}

// Load reads a .env file if present, then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port:        getEnvOrDefault("APP_PORT", "8080"),
		Environment: getEnvOrDefault("APP_ENV", "development"),
		RequireTLS:  os.Getenv("REQUIRE_TLS") == "true",
		Session: SessionConfig{
			Backend: getEnvOrDefault("SESSION_BACKEND", SessionMemory),
			TTL:     p.duration("SESSION_TTL", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       p.int("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Backend: getEnvOrDefault("STORAGE_BACKEND", StorageFile),
			DataDir: getEnvOrDefault("DATA_DIR", "./data"),
		},
		Database: database.ConfigFromEnv(),
		Tracking: TrackingConfig{
			Source:        getEnvOrDefault("POSITION_SOURCE", SourceSimulator),
			MaxAge:        p.duration("POSITION_MAX_AGE", 60*time.Second),
			MaxPositions:  p.int("POSITION_MAX_ENTRIES", 10),
			SourceTimeout: p.duration("SOURCE_TIMEOUT", 5*time.Second),
		},
		Simulator: SimulatorConfig{
			StatesFile:   os.Getenv("MOVEMENT_STATES_FILE"),
			StartLat:     p.float("SIMULATOR_START_LAT", 45.20415),
			StartLon:     p.float("SIMULATOR_START_LON", 5.6933013),
			InitialState: getEnvOrDefault("SIMULATOR_INITIAL_STATE", "WALK"),
		},
		LoRaWan: LoRaWanConfig{
			Host:     os.Getenv("LORAWAN_HOST"),
			Email:    os.Getenv("LORAWAN_EMAIL"),
			Password: os.Getenv("LORAWAN_PASSWORD"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      os.Getenv("OTEL_ENABLED") == "true",
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		Worker: WorkerConfig{
			Interval:       p.duration("WORKER_INTERVAL", time.Minute),
			Concurrency:    p.int("WORKER_CONCURRENCY", 4),
			PubSubProject:  os.Getenv("PUBSUB_PROJECT_ID"),
			PubSubSub:      getEnvOrDefault("PUBSUB_SUBSCRIPTION", "psptrack-worker"),
			HealthPort:     getEnvOrDefault("WORKER_PORT", "8081"),
			RequestTimeout: p.duration("WORKER_TIMEOUT", 30*time.Second),
			Embedded:       os.Getenv("WORKER_EMBEDDED") == "true",
		},
		BcryptCost: p.int("BCRYPT_COST", 10),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case StorageFile, StoragePostgres, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND: unknown backend %q", c.Storage.Backend))
	}

	switch c.Session.Backend {
	case SessionMemory, SessionRedis:
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND: unknown backend %q", c.Session.Backend))
	}

	switch c.Tracking.Source {
	case SourceSimulator:
	case SourceLoRaWan:
		if c.LoRaWan.Host == "" {
			errs = append(errs, errors.New("LORAWAN_HOST is required when POSITION_SOURCE=lorawan"))
		}
	default:
		errs = append(errs, fmt.Errorf("POSITION_SOURCE: unknown source %q", c.Tracking.Source))
	}

	if c.Tracking.MaxAge <= 0 {
		errs = append(errs, errors.New("POSITION_MAX_AGE must be positive"))
	}
	if c.Tracking.MaxPositions < 1 {
		errs = append(errs, errors.New("POSITION_MAX_ENTRIES must be at least 1"))
	}
	if c.Tracking.SourceTimeout <= 0 {
		errs = append(errs, errors.New("SOURCE_TIMEOUT must be positive"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST %d outside [4,31]", c.BcryptCost))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}

	return errors.Join(errs...)
}

// parser collects conversion errors so that every bad key is reported.
type parser struct {
	errs []error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are seconds.
		if n, nerr := strconv.Atoi(v); nerr == nil {
			return time.Duration(n) * time.Second
		}
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
