// Package device provides tracker devices, their bounded position history
// and the registry linking devices to their owners.
package device

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Domain errors.
var (
	ErrNotFound           = errors.New("device not found")
	ErrInvalidEUI         = errors.New("EUI format invalid")
	ErrAlreadyRegistered  = errors.New("device already registered")
	ErrNotRegistered      = errors.New("device has not been registered")
	ErrVerificationFailed = errors.New("device could not be verified")
	ErrInconsistentState  = errors.New("inconsistent registry state")
)

var euiPattern = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)

// NormalizeEUI validates a 16 hex character device EUI and returns it in
// lower case, so that the same identifier is never stored twice.
func NormalizeEUI(eui string) (string, error) {
	if !euiPattern.MatchString(eui) {
		return "", ErrInvalidEUI
	}
	return strings.ToLower(eui), nil
}

// Position is one observed or simulated location of a device.
type Position struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// Device is a registered tracker.
type Device struct {
	// EUI is the lower-case 16 hex character identifier.
	EUI string

	// Owners holds the usernames that registered the device.
	Owners []string

	// Positions is the position history, newest first.
	Positions []Position

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Latest returns the most recent position, if any.
func (d *Device) Latest() (Position, bool) {
	if len(d.Positions) == 0 {
		return Position{}, false
	}
	return d.Positions[0], true
}

// IsFresh reports whether the latest position is younger than maxAge.
// Ages are compared in whole milliseconds; a position exactly maxAge old is
// stale.
func (d *Device) IsFresh(now time.Time, maxAge time.Duration) bool {
	latest, ok := d.Latest()
	if !ok {
		return false
	}
	age := now.UnixMilli() - latest.Timestamp.UnixMilli()
	return age < maxAge.Milliseconds()
}

// Record prepends p to the history. When the history then exceeds
// maxPositions the single oldest entry is dropped. A non-positive
// maxPositions disables the cap.
func (d *Device) Record(p Position, maxPositions int) {
	d.Positions = slices.Insert(d.Positions, 0, p)
	if maxPositions > 0 && len(d.Positions) > maxPositions {
		d.Positions = d.Positions[:len(d.Positions)-1]
	}
}

// HasOwner reports whether username is in the owner set.
func (d *Device) HasOwner(username string) bool {
	return slices.Contains(d.Owners, username)
}

// AddOwner adds username to the owner set if absent.
func (d *Device) AddOwner(username string) {
	if !d.HasOwner(username) {
		d.Owners = append(d.Owners, username)
	}
}

// RemoveOwner removes username from the owner set.
func (d *Device) RemoveOwner(username string) {
	d.Owners = slices.DeleteFunc(d.Owners, func(o string) bool { return o == username })
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	c.Owners = slices.Clone(d.Owners)
	c.Positions = slices.Clone(d.Positions)
	if c.Owners == nil {
		c.Owners = []string{}
	}
	if c.Positions == nil {
		c.Positions = []Position{}
	}
	return &c
}
