// Package models provides request and response bodies for the psptrack API.
package models

import (
	"time"

	"github.com/psptrack/psptrack/internal/device"
)

// StatusOK is the body of successful mutations.
type StatusOK struct {
	Status string `json:"status"`
}

// OK returns the {"status":"OK"} body.
func OK() StatusOK {
	return StatusOK{Status: "OK"}
}

// DeviceList is the body of GET /api/devices.
type DeviceList struct {
	Devices []string `json:"devices"`
}

// Position is the body of GET /api/devices/{eui}. Timestamp is Unix
// milliseconds.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// NewPosition converts a tracked position to its response body.
func NewPosition(p device.Position) Position {
	return Position{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp.UnixMilli(),
	}
}

// HealthStatus represents the health status of a service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Timestamp is a time.Time that marshals as RFC 3339.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler for Timestamp.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(time.RFC3339) + `"`), nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// TimestampPtr returns nil for the zero time.
func TimestampPtr(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	ts := Timestamp(t)
	return &ts
}
