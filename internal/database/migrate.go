package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order; index i brings the schema to version i+1.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		devices       TEXT[] NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS devices (
		eui        TEXT PRIMARY KEY,
		owners     TEXT[] NOT NULL DEFAULT '{}',
		positions  JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`,
	`
	CREATE INDEX IF NOT EXISTS devices_owners_idx ON devices USING GIN (owners);
	`,
}

// SchemaVersion is the version Migrate brings the database to.
var SchemaVersion = len(migrations)

// Migrate creates or upgrades the schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	const versionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := pool.Exec(ctx, versionTable); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("check schema version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migrations[v]); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, v+1)
			return err
		})
		if err != nil {
			return version, fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		version = v + 1
	}

	return version, nil
}
