// Package tracking serves device positions from the bounded history,
// calling the configured position source only when the latest entry is
// stale.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psptrack/psptrack/internal/device"
)

const tracerName = "github.com/psptrack/psptrack/internal/tracking"

// ErrSourceUnavailable is returned when the position source fails or times
// out. The device history is left untouched.
var ErrSourceUnavailable = errors.New("position source unavailable")

// Source produces a new position for a device.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string

	// Position returns the current position of the device.
	Position(ctx context.Context, eui string) (device.Position, error)
}

// Config holds configuration for the tracking service.
type Config struct {
	// Devices stores device records and their history.
	Devices device.Repository

	// Source is called when the latest position is stale.
	Source Source

	// MaxAge is the age at which a position becomes stale (default: 60s).
	MaxAge time.Duration

	// MaxPositions caps the history length (default: 10).
	MaxPositions int

	// SourceTimeout bounds each source call (default: 5s).
	SourceTimeout time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Logger for service operations.
	Logger zerolog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Result is the outcome of a position lookup.
type Result struct {
	Position device.Position

	// Cached is true when the position came from the history without a
	// source call.
	Cached bool
}

// Service decides per request whether to serve the cached position or
// refresh it from the source.
type Service struct {
	devices       device.Repository
	source        Source
	maxAge        time.Duration
	maxPositions  int
	sourceTimeout time.Duration
	now           func() time.Time
	logger        zerolog.Logger
	metrics       *Metrics
	tracer        trace.Tracer
}

// NewService creates a new tracking service.
func NewService(cfg Config) *Service {
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 60 * time.Second
	}

	maxPositions := cfg.MaxPositions
	if maxPositions == 0 {
		maxPositions = 10
	}

	sourceTimeout := cfg.SourceTimeout
	if sourceTimeout == 0 {
		sourceTimeout = 5 * time.Second
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		devices:       cfg.Devices,
		source:        cfg.Source,
		maxAge:        maxAge,
		maxPositions:  maxPositions,
		sourceTimeout: sourceTimeout,
		now:           now,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        otel.Tracer(tracerName),
	}
}

// MaxAge returns the configured staleness threshold.
func (s *Service) MaxAge() time.Duration {
	return s.maxAge
}

// Position returns the latest position of eui, refreshing it from the
// source if stale. Returns device.ErrNotFound when the device is unknown.
//
// Calls for the same device are serialized on the repository's device lock,
// so a stale device triggers exactly one source call and later callers see
// the fresh entry. Registry changes to the device wait for the refresh.
func (s *Service) Position(ctx context.Context, eui string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "tracking.Position",
		trace.WithAttributes(attribute.String("device.eui", eui)),
	)
	defer span.End()

	unlock, err := s.devices.Lock(ctx, eui)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	defer unlock()

	d, err := s.devices.Get(ctx, eui)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	if d.IsFresh(s.now(), s.maxAge) {
		latest, _ := d.Latest()
		s.metrics.recordHit(ctx, s.source.Name())
		span.SetAttributes(attribute.Bool("tracking.cached", true))
		return Result{Position: latest, Cached: true}, nil
	}

	s.metrics.recordMiss(ctx, s.source.Name())
	span.SetAttributes(attribute.Bool("tracking.cached", false))

	p, err := s.refresh(ctx, d)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return Result{Position: p}, nil
}

// RefreshStale refreshes eui only if its latest position is stale. It
// reports whether a source call was made. Used by the background worker.
func (s *Service) RefreshStale(ctx context.Context, eui string) (bool, error) {
	unlock, err := s.devices.Lock(ctx, eui)
	if err != nil {
		return false, err
	}
	defer unlock()

	d, err := s.devices.Get(ctx, eui)
	if err != nil {
		return false, err
	}

	if d.IsFresh(s.now(), s.maxAge) {
		return false, nil
	}

	if _, err := s.refresh(ctx, d); err != nil {
		return false, err
	}
	return true, nil
}

// refresh calls the source, records the result and persists the device.
// Caller holds the device lock.
func (s *Service) refresh(ctx context.Context, d *device.Device) (device.Position, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.sourceTimeout)
	defer cancel()

	start := time.Now()
	p, err := s.source.Position(callCtx, d.EUI)
	s.metrics.recordSource(s.source.Name(), time.Since(start), err)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("eui", d.EUI).
			Str("source", s.source.Name()).
			Msg("position source failed")
		return device.Position{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	d.Record(p, s.maxPositions)
	d.UpdatedAt = s.now()

	if err := s.devices.Upsert(ctx, d); err != nil {
		return device.Position{}, fmt.Errorf("persist device %s: %w", d.EUI, err)
	}

	s.logger.Debug().
		Str("eui", d.EUI).
		Float64("latitude", p.Latitude).
		Float64("longitude", p.Longitude).
		Int("history", len(d.Positions)).
		Msg("position refreshed")

	return p, nil
}
