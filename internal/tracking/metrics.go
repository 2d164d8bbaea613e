package tracking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/psptrack/psptrack/internal/tracking"

// Metrics holds the OpenTelemetry instruments for position lookups.
type Metrics struct {
	cacheHit       metric.Int64Counter
	cacheMiss      metric.Int64Counter
	sourceDuration metric.Float64Histogram
	sourceErrors   metric.Int64Counter
}

// NewMetrics creates the tracking instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	cacheHit, err := meter.Int64Counter(
		"tracking.cache.hit",
		metric.WithDescription("Position requests served from the device history"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMiss, err := meter.Int64Counter(
		"tracking.cache.miss",
		metric.WithDescription("Position requests that required a source call"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	sourceDuration, err := meter.Float64Histogram(
		"tracking.source.duration",
		metric.WithDescription("Duration of position source calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sourceErrors, err := meter.Int64Counter(
		"tracking.source.errors",
		metric.WithDescription("Failed position source calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cacheHit:       cacheHit,
		cacheMiss:      cacheMiss,
		sourceDuration: sourceDuration,
		sourceErrors:   sourceErrors,
	}, nil
}

func (m *Metrics) recordHit(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.cacheHit.Add(ctx, 1, metric.WithAttributes(attribute.String("source.name", source)))
}

func (m *Metrics) recordMiss(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.cacheMiss.Add(ctx, 1, metric.WithAttributes(attribute.String("source.name", source)))
}

func (m *Metrics) recordSource(source string, d time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("source.name", source)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// The request context may already be cancelled here.
	ctx := context.Background()
	m.sourceDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	if err != nil {
		m.sourceErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
