package filestore

import (
	"context"
	"time"

	"github.com/psptrack/psptrack/internal/device"
	"github.com/psptrack/psptrack/internal/user"
)

// userRepository schedules a write after every successful mutation.
type userRepository struct {
	*user.InMemoryRepository
	store *Store
}

func (r *userRepository) Create(ctx context.Context, u *user.User) error {
	if err := r.InMemoryRepository.Create(ctx, u); err != nil {
		return err
	}
	r.store.markDirty()
	return nil
}

func (r *userRepository) Update(ctx context.Context, u *user.User) error {
	if err := r.InMemoryRepository.Update(ctx, u); err != nil {
		return err
	}
	r.store.markDirty()
	return nil
}

type deviceRepository struct {
	*device.InMemoryRepository
	store *Store
}

func (r *deviceRepository) Upsert(ctx context.Context, d *device.Device) error {
	if err := r.InMemoryRepository.Upsert(ctx, d); err != nil {
		return err
	}
	r.store.markDirty()
	return nil
}

var (
	_ user.Repository   = (*userRepository)(nil)
	_ device.Repository = (*deviceRepository)(nil)
)

// userRecord is one entry of users.json.
type userRecord struct {
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	Devices   []string   `json:"devices"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (r userRecord) toUser() *user.User {
	u := &user.User{
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.Password,
		Devices:      r.Devices,
	}
	if r.CreatedAt != nil {
		u.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		u.UpdatedAt = *r.UpdatedAt
	}
	return u
}

func toUserRecords(users []*user.User) []userRecord {
	out := make([]userRecord, 0, len(users))
	for _, u := range users {
		out = append(out, userRecord{
			Username:  u.Username,
			Email:     u.Email,
			Password:  u.PasswordHash,
			Devices:   u.Clone().Devices,
			CreatedAt: timePtr(u.CreatedAt),
			UpdatedAt: timePtr(u.UpdatedAt),
		})
	}
	return out
}

// deviceRecord is one entry of devices.json. Positions use device.Position's
// JSON form with Unix millisecond timestamps.
type deviceRecord struct {
	EUI       string            `json:"eui"`
	Owners    []string          `json:"owners"`
	Positions []device.Position `json:"positions"`
	CreatedAt *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt *time.Time        `json:"updatedAt,omitempty"`
}

func (r deviceRecord) toDevice() *device.Device {
	d := &device.Device{
		EUI:       r.EUI,
		Owners:    r.Owners,
		Positions: r.Positions,
	}
	if r.CreatedAt != nil {
		d.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		d.UpdatedAt = *r.UpdatedAt
	}
	return d
}

func toDeviceRecords(devices []*device.Device) []deviceRecord {
	out := make([]deviceRecord, 0, len(devices))
	for _, d := range devices {
		c := d.Clone()
		out = append(out, deviceRecord{
			EUI:       c.EUI,
			Owners:    c.Owners,
			Positions: c.Positions,
			CreatedAt: timePtr(c.CreatedAt),
			UpdatedAt: timePtr(c.UpdatedAt),
		})
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
