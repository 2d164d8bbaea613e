package user

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL user repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectUser = `
	SELECT username, email, password_hash, devices, created_at, updated_at
	FROM users
`

// Get retrieves a user by username.
func (r *PostgresRepository) Get(ctx context.Context, username string) (*User, error) {
	return r.scanUser(ctx, selectUser+` WHERE username = $1`, username)
}

// GetByEmail retrieves a user by email address.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(ctx, selectUser+` WHERE email = $1`, email)
}

func (r *PostgresRepository) scanUser(ctx context.Context, query string, args ...any) (*User, error) {
	var u User

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Devices,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

// List returns every user ordered by username.
func (r *PostgresRepository) List(ctx context.Context) ([]*User, error) {
	rows, err := r.pool.Query(ctx, selectUser+` ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.Email, &u.PasswordHash, &u.Devices, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}

	return users, rows.Err()
}

// Create stores a new user.
func (r *PostgresRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (username, email, password_hash, devices, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	devices := user.Devices
	if devices == nil {
		devices = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		devices,
		user.CreatedAt,
		user.UpdatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUserExists
	}
	return err
}

// Update replaces an existing user.
func (r *PostgresRepository) Update(ctx context.Context, user *User) error {
	query := `
		UPDATE users SET
			email = $2,
			password_hash = $3,
			devices = $4,
			updated_at = $5
		WHERE username = $1
	`

	devices := user.Devices
	if devices == nil {
		devices = []string{}
	}

	result, err := r.pool.Exec(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		devices,
		user.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
