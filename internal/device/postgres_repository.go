package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
// Positions are stored as a JSONB array, newest first.
//
// Device locks are session advisory locks keyed by hashtext(eui), so the API
// and worker processes exclude each other. Goroutines of one process queue
// on a local lock first and hold at most one pooled connection per device.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	local *keyedMutex
}

// NewPostgresRepository creates a new PostgreSQL device repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, local: newKeyedMutex()}
}

const unlockTimeout = 5 * time.Second

// Lock takes the advisory lock for eui on a dedicated pooled connection.
func (r *PostgresRepository) Lock(ctx context.Context, eui string) (func(), error) {
	release := r.local.Lock(eui)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, eui); err != nil {
		conn.Release()
		release()
		return nil, fmt.Errorf("lock device %s: %w", eui, err)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, eui); err != nil {
			// The session still holds the lock; closing it is the only way
			// to drop it. The pool discards closed connections.
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
		release()
	}, nil
}

// Get retrieves a device by EUI.
func (r *PostgresRepository) Get(ctx context.Context, eui string) (*Device, error) {
	query := `
		SELECT eui, owners, positions, created_at, updated_at
		FROM devices
		WHERE eui = $1
	`

	d, err := scanDevice(r.pool.QueryRow(ctx, query, eui))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// List returns every device ordered by EUI.
func (r *PostgresRepository) List(ctx context.Context) ([]*Device, error) {
	query := `
		SELECT eui, owners, positions, created_at, updated_at
		FROM devices
		ORDER BY eui
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	return devices, rows.Err()
}

// Upsert creates or replaces a device record.
func (r *PostgresRepository) Upsert(ctx context.Context, device *Device) error {
	query := `
		INSERT INTO devices (eui, owners, positions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (eui) DO UPDATE SET
			owners = EXCLUDED.owners,
			positions = EXCLUDED.positions,
			updated_at = EXCLUDED.updated_at
	`

	owners := device.Owners
	if owners == nil {
		owners = []string{}
	}

	positions, err := json.Marshal(nonNil(device.Positions))
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		device.EUI,
		owners,
		positions,
		device.CreatedAt,
		device.UpdatedAt,
	)
	return err
}

func scanDevice(row pgx.Row) (*Device, error) {
	var (
		d         Device
		positions []byte
	)

	if err := row.Scan(&d.EUI, &d.Owners, &positions, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	if len(positions) > 0 {
		if err := json.Unmarshal(positions, &d.Positions); err != nil {
			return nil, fmt.Errorf("decode positions for %s: %w", d.EUI, err)
		}
	}

	return &d, nil
}

func nonNil(p []Position) []Position {
	if p == nil {
		return []Position{}
	}
	return p
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
