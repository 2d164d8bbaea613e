package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/device"
)

// DeviceLister lists every stored device.
type DeviceLister interface {
	List(ctx context.Context) ([]*device.Device, error)
}

// Refresher refreshes a device if its latest position is stale.
// tracking.Service implements it.
type Refresher interface {
	RefreshStale(ctx context.Context, eui string) (bool, error)
}

// RefreshJob refreshes the stale positions of registered devices.
type RefreshJob struct {
	config    RefreshConfig
	devices   DeviceLister
	refresher Refresher
	logger    zerolog.Logger

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	Runs      int64
	Refreshed int64
	Fresh     int64
	Failed    int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	LastError       string
}

// RefreshStats is a point-in-time copy of RefreshMetrics.
type RefreshStats struct {
	Runs            int64
	Refreshed       int64
	Fresh           int64
	Failed          int64
	LastRunAt       time.Time
	LastRunDuration time.Duration
	LastError       string
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config    RefreshConfig
	Devices   DeviceLister
	Refresher Refresher
	Logger    zerolog.Logger
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	return &RefreshJob{
		config:    cfg.Config.withDefaults(),
		devices:   cfg.Devices,
		refresher: cfg.Refresher,
		logger:    cfg.Logger,
		metrics:   &RefreshMetrics{},
	}
}

// RefreshResult contains the result of a refresh run.
type RefreshResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Total is the number of devices considered.
	Total int

	// Refreshed devices got a new position from the source.
	Refreshed int

	// Fresh devices already had a recent position.
	Fresh int

	Failed int
	Errors []RefreshError
}

// RefreshError is the failure of one device.
type RefreshError struct {
	EUI   string
	Error string
}

// Run refreshes every registered device once. It fails only when the device
// list cannot be read; per device failures are reported in the result.
func (j *RefreshJob) Run(ctx context.Context) (*RefreshResult, error) {
	startTime := time.Now()

	all, err := j.devices.List(ctx)
	if err != nil {
		j.recordFailure(err)
		return nil, fmt.Errorf("list devices: %w", err)
	}

	euis := make([]string, 0, len(all))
	for _, d := range all {
		if len(d.Owners) == 0 && !j.config.IncludeUnowned {
			continue
		}
		euis = append(euis, d.EUI)
	}

	result := &RefreshResult{StartTime: startTime, Total: len(euis)}

	j.logger.Debug().
		Int("devices", result.Total).
		Int("concurrency", j.config.Concurrency).
		Msg("starting refresh run")

	jobs := make(chan string)
	results := make(chan deviceResult, len(euis))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.refreshWorker(ctx, jobs, results)
		}()
	}

send:
	for _, eui := range euis {
		select {
		case jobs <- eui:
		case <-ctx.Done():
			break send
		}
	}
	close(jobs)

	wg.Wait()
	close(results)

	for dr := range results {
		switch {
		case dr.err != nil:
			result.Failed++
			result.Errors = append(result.Errors, RefreshError{EUI: dr.eui, Error: dr.err.Error()})
		case dr.refreshed:
			result.Refreshed++
		default:
			result.Fresh++
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("devices", result.Total).
		Int("refreshed", result.Refreshed).
		Int("fresh", result.Fresh).
		Int("failed", result.Failed).
		Msg("refresh run completed")

	return result, ctx.Err()
}

// RunEvery runs the job on the configured interval until ctx is done. The
// first run starts immediately.
func (j *RefreshJob) RunEvery(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error().Err(err).Msg("refresh run failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type deviceResult struct {
	eui       string
	refreshed bool
	err       error
}

func (j *RefreshJob) refreshWorker(ctx context.Context, euis <-chan string, results chan<- deviceResult) {
	for eui := range euis {
		if ctx.Err() != nil {
			return
		}
		results <- j.refreshDevice(ctx, eui)
	}
}

func (j *RefreshJob) refreshDevice(ctx context.Context, eui string) deviceResult {
	deviceCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	refreshed, err := j.refresher.RefreshStale(deviceCtx, eui)
	if err != nil {
		j.logger.Warn().Err(err).Str("eui", eui).Msg("device refresh failed")
	}
	return deviceResult{eui: eui, refreshed: refreshed, err: err}
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.Runs++
	j.metrics.Refreshed += int64(result.Refreshed)
	j.metrics.Fresh += int64(result.Fresh)
	j.metrics.Failed += int64(result.Failed)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.LastError = ""
	if len(result.Errors) > 0 {
		j.metrics.LastError = result.Errors[len(result.Errors)-1].Error
	}
}

func (j *RefreshJob) recordFailure(err error) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.Runs++
	j.metrics.LastRunAt = time.Now()
	j.metrics.LastError = err.Error()
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshStats {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshStats{
		Runs:            j.metrics.Runs,
		Refreshed:       j.metrics.Refreshed,
		Fresh:           j.metrics.Fresh,
		Failed:          j.metrics.Failed,
		LastRunAt:       j.metrics.LastRunAt,
		LastRunDuration: j.metrics.LastRunDuration,
		LastError:       j.metrics.LastError,
	}
}

// MetricsSnapshot returns the current metrics as a map for the health
// endpoint.
func (j *RefreshJob) MetricsSnapshot() map[string]any {
	m := j.GetMetrics()
	return map[string]any{
		"runs":              m.Runs,
		"refreshed":         m.Refreshed,
		"fresh":             m.Fresh,
		"failed":            m.Failed,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"last_error":        m.LastError,
	}
}
