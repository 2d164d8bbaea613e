package device

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// It backs tests and the JSON file store.
type InMemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]*Device // keyed by EUI

	locks *keyedMutex
}

// NewInMemoryRepository creates a new in-memory device repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		devices: make(map[string]*Device),
		locks:   newKeyedMutex(),
	}
}

// Get retrieves a device by EUI.
func (r *InMemoryRepository) Get(_ context.Context, eui string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[eui]
	if !ok {
		return nil, ErrNotFound
	}

	return d.Clone(), nil
}

// List returns every device ordered by EUI.
func (r *InMemoryRepository) List(_ context.Context) ([]*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EUI < out[j].EUI })
	return out, nil
}

// Upsert creates or replaces a device record.
func (r *InMemoryRepository) Upsert(_ context.Context, device *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices[device.EUI] = device.Clone()
	return nil
}

// Lock takes the in-process lock for eui.
func (r *InMemoryRepository) Lock(_ context.Context, eui string) (func(), error) {
	return r.locks.Lock(eui), nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
