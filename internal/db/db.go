package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// Options tunes the pool and transaction behaviour
type Options struct {
	MaxConns int32
	// LockTimeout bounds how long a transaction waits for an auction row lock
	LockTimeout time.Duration
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string, opts Options) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DB{Pool: pool, lockTimeout: opts.LockTimeout}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	for _, e := range entries {
		sql, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}
		if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// InTx runs fn in a READ COMMITTED transaction. Auction rows are serialized
// with SELECT ... FOR UPDATE inside fn. A failed commit is not marked
// transient since the outcome is unknown.
func (db *DB) InTx(ctx context.Context, fn func(tx auction.Tx) error) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapErr(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if db.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", db.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return wrapErr(err, "failed to set lock timeout")
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// wrapErr maps driver errors onto the auction error taxonomy
func wrapErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, auction.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w: %s", msg, auction.ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w: %s", msg, auction.ErrNotFound, pgErr.ConstraintName)
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%s: %w: %w", msg, auction.ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", msg, err)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %w", msg, auction.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// CreateOperator inserts a new operator
func (db *DB) CreateOperator(ctx context.Context, username, passwordHash string) (*models.Operator, error) {
	op := &models.Operator{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO operators (id, username, password_hash) VALUES ($1, $2, $3) RETURNING id, username, password_hash, created_at",
		uuid.New(), username, passwordHash).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "failed to create operator")
	}
	return op, nil
}

// GetOperatorByUsername retrieves an operator by username
func (db *DB) GetOperatorByUsername(ctx context.Context, username string) (*models.Operator, error) {
	op := &models.Operator{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM operators WHERE username = $1",
		username).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "failed to get operator")
	}
	return op, nil
}
