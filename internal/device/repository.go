package device

import "context"

// Repository defines the interface for device persistence.
//
// Every read-modify-write of a device record (a Get, a change, then an
// Upsert) runs under Lock for that EUI. The registry and the position
// refresh both follow this, so neither overwrites the other's change.
type Repository interface {
	// Get retrieves a device by EUI. Returns ErrNotFound if unknown.
	Get(ctx context.Context, eui string) (*Device, error)

	// List returns every device ordered by EUI.
	List(ctx context.Context) ([]*Device, error)

	// Upsert creates or replaces a device record.
	Upsert(ctx context.Context, device *Device) error

	// Lock blocks until the caller holds the device lock for eui, which
	// need not exist yet. The returned function releases it.
	Lock(ctx context.Context, eui string) (unlock func(), err error)
}
