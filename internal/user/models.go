// Package user provides user accounts and their persistence.
//
// A user owns a set of tracker EUIs. The owner side of that link lives on
// the device record; both sides are kept in step by device.Registry.
package user

import (
	"slices"
	"time"
)

// User is a registered account.
type User struct {
	// Username is the unique login name.
	Username string

	// Email is unique across users and may be used to log in.
	Email string

	// PasswordHash is the bcrypt hash of the password.
	PasswordHash string

	// Devices holds the EUIs registered by this user.
	Devices []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnsDevice reports whether eui is in the user's device set.
func (u *User) OwnsDevice(eui string) bool {
	return slices.Contains(u.Devices, eui)
}

// AddDevice adds eui to the device set. It returns false if already present.
func (u *User) AddDevice(eui string) bool {
	if u.OwnsDevice(eui) {
		return false
	}
	u.Devices = append(u.Devices, eui)
	return true
}

// RemoveDevice removes eui from the device set. It returns false if absent.
func (u *User) RemoveDevice(eui string) bool {
	i := slices.Index(u.Devices, eui)
	if i < 0 {
		return false
	}
	u.Devices = slices.Delete(u.Devices, i, i+1)
	return true
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Devices = slices.Clone(u.Devices)
	if c.Devices == nil {
		c.Devices = []string{}
	}
	return &c
}
