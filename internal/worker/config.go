// Package worker refreshes stale device positions in the background.
package worker

import (
	"time"
)

// RefreshConfig holds configuration for the refresh job.
type RefreshConfig struct {
	// Concurrency is the number of devices refreshed in parallel.
	// Default: 4
	Concurrency int

	// Timeout bounds the refresh of a single device.
	// Default: 30 seconds
	Timeout time.Duration

	// Interval is the period of the scheduled run.
	// Default: 1 minute
	Interval time.Duration

	// IncludeUnowned also refreshes devices nobody has registered anymore.
	IncludeUnowned bool
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Concurrency: 4,
		Timeout:     30 * time.Second,
		Interval:    time.Minute,
	}
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	def := DefaultRefreshConfig()
	if c.Concurrency < 1 {
		c.Concurrency = def.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	return c
}
