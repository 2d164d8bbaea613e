package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/user"
)

// Verifier confirms that a device exists upstream before it is registered.
type Verifier interface {
	Verify(ctx context.Context, eui string) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, eui string) error

// Verify calls f(ctx, eui).
func (f VerifierFunc) Verify(ctx context.Context, eui string) error {
	return f(ctx, eui)
}

// RegistryConfig holds configuration for the registry.
type RegistryConfig struct {
	Devices  Repository
	Users    user.Repository
	Verifier Verifier
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Registry maintains the two-sided link between users and devices.
//
// Mutations hold the write lock across the user and device writes, readers
// hold the read lock, so nobody observes one side of a link without the
// other. The upstream verification runs outside the lock.
//
// Mutations also hold the repository's device lock, taken before the
// registry lock. A position refresh holds only the device lock, so it never
// interleaves with an owner change on the same record.
type Registry struct {
	devices  Repository
	users    user.Repository
	verifier Verifier
	logger   zerolog.Logger
	now      func() time.Time

	mu sync.RWMutex
}

// NewRegistry creates a new registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = VerifierFunc(func(context.Context, string) error { return nil })
	}

	return &Registry{
		devices:  cfg.Devices,
		users:    cfg.Users,
		verifier: verifier,
		logger:   cfg.Logger,
		now:      now,
	}
}

// IsOwner reports whether username currently owns eui.
func (r *Registry) IsOwner(ctx context.Context, username, eui string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, err := r.users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.OwnsDevice(eui), nil
}

// Authorize checks that an authenticated user owns eui. A user whose record
// has vanished yields ErrInconsistentState.
func (r *Registry) Authorize(ctx context.Context, username, eui string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, err := r.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	if !u.OwnsDevice(eui) {
		return ErrNotRegistered
	}
	return nil
}

// ListForUser returns the EUIs registered by username.
func (r *Registry) ListForUser(ctx context.Context, username string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, err := r.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return u.Devices, nil
}

// Register links eui to username, creating the device on first
// registration. The device is verified upstream before anything is written.
func (r *Registry) Register(ctx context.Context, username, eui string) error {
	eui, err := NormalizeEUI(eui)
	if err != nil {
		return err
	}

	if err := r.checkNotOwned(ctx, username, eui); err != nil {
		return err
	}

	if err := r.verifier.Verify(ctx, eui); err != nil {
		r.logger.Warn().Err(err).Str("eui", eui).Str("username", username).Msg("device verification failed")
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	unlock, err := r.devices.Lock(ctx, eui)
	if err != nil {
		return fmt.Errorf("lock device: %w", err)
	}
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-read under the write lock; a concurrent request may have won.
	u, err := r.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	if u.OwnsDevice(eui) {
		return ErrAlreadyRegistered
	}

	now := r.now()
	d, err := r.devices.Get(ctx, eui)
	switch {
	case errors.Is(err, ErrNotFound):
		d = &Device{EUI: eui, Owners: []string{}, Positions: []Position{}, CreatedAt: now}
	case err != nil:
		return fmt.Errorf("get device: %w", err)
	}

	before := u.Clone()
	u.AddDevice(eui)
	u.UpdatedAt = now
	d.AddOwner(username)
	d.UpdatedAt = now

	if err := r.commit(ctx, u, before, d); err != nil {
		return err
	}

	r.logger.Info().Str("eui", eui).Str("username", username).Msg("device registered")
	return nil
}

// Deregister removes the link between username and eui. The device and its
// position history are kept even if no owner remains.
func (r *Registry) Deregister(ctx context.Context, username, eui string) error {
	eui, err := NormalizeEUI(eui)
	if err != nil {
		return err
	}

	unlock, err := r.devices.Lock(ctx, eui)
	if err != nil {
		return fmt.Errorf("lock device: %w", err)
	}
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	u, err := r.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	if !u.OwnsDevice(eui) {
		return ErrNotRegistered
	}

	d, err := r.devices.Get(ctx, eui)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Error().Str("eui", eui).Str("username", username).
				Msg("registered device is no longer a valid device")
			return fmt.Errorf("%w: device %s owned by %s is missing", ErrInconsistentState, eui, username)
		}
		return fmt.Errorf("get device: %w", err)
	}

	now := r.now()
	before := u.Clone()
	u.RemoveDevice(eui)
	u.UpdatedAt = now
	d.RemoveOwner(username)
	d.UpdatedAt = now

	if err := r.commit(ctx, u, before, d); err != nil {
		return err
	}

	r.logger.Info().Str("eui", eui).Str("username", username).Msg("device deregistered")
	return nil
}

// checkNotOwned is the fast pre-verification check.
func (r *Registry) checkNotOwned(ctx context.Context, username, eui string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, err := r.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	if u.OwnsDevice(eui) {
		return ErrAlreadyRegistered
	}
	return nil
}

// commit writes both sides of a link change, restoring the user record if
// the device write fails. Caller holds the write lock.
func (r *Registry) commit(ctx context.Context, u, before *user.User, d *Device) error {
	if err := r.users.Update(ctx, u); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	if err := r.devices.Upsert(ctx, d); err != nil {
		if rbErr := r.users.Update(ctx, before); rbErr != nil {
			r.logger.Error().Err(rbErr).Str("username", u.Username).Str("eui", d.EUI).
				Msg("failed to roll back user after device write failure")
		}
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// lookupUser resolves an authenticated username. Caller holds a lock.
func (r *Registry) lookupUser(ctx context.Context, username string) (*user.User, error) {
	u, err := r.users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			r.logger.Error().Str("username", username).
				Msg("previously authenticated user is no longer a valid user")
			return nil, fmt.Errorf("%w: user %s is missing", ErrInconsistentState, username)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
