// Package sqlite is a single-node auction store on an embedded SQLite
// database. All access goes through one connection, so transactions run
// one at a time and LockAuction needs no row locks.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/models"
)

// Times are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS operators(
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS auctions(
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  product_ref TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK (status IN ('draft','live','ended')),
  min_increment TEXT NOT NULL,
  base_price TEXT,
  registration_end_time TEXT NOT NULL,
  bidding_start_time TEXT NOT NULL,
  bidding_end_time TEXT NOT NULL,
  available_sizes TEXT NOT NULL DEFAULT '[]',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_auctions_status_end ON auctions(status, bidding_end_time);

CREATE TABLE IF NOT EXISTS bidders(
  id TEXT PRIMARY KEY,
  auction_id TEXT NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  phone TEXT NOT NULL,
  email TEXT NOT NULL,
  registered_at TEXT NOT NULL,
  UNIQUE(auction_id, phone),
  UNIQUE(auction_id, email)
);

CREATE TABLE IF NOT EXISTS bids(
  id TEXT PRIMARY KEY,
  auction_id TEXT NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
  bidder_id TEXT NOT NULL REFERENCES bidders(id) ON DELETE CASCADE,
  amount TEXT NOT NULL,
  size TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids(auction_id, created_at);

CREATE TABLE IF NOT EXISTS winners(
  auction_id TEXT PRIMARY KEY REFERENCES auctions(id) ON DELETE CASCADE,
  bidder_id TEXT NOT NULL REFERENCES bidders(id) ON DELETE CASCADE,
  bid_id TEXT NOT NULL REFERENCES bids(id) ON DELETE CASCADE,
  winning_amount TEXT NOT NULL,
  declared_at TEXT NOT NULL
);
`

// Store implements auction.Store on SQLite
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn (a file path or ":memory:") and ensures the schema
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	pragmas := "PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"
	if _, err := db.Exec(pragmas + schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn in a transaction on the single connection
func (s *Store) InTx(ctx context.Context, fn func(tx auction.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ledger: ledger{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func wrapErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, auction.ErrNotFound)
	}

	var sqlErr *sqlitedrv.Error
	if errors.As(err, &sqlErr) {
		switch code := sqlErr.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqlErr.Error(), "UNIQUE"):
			return fmt.Errorf("%s: %w: %s", msg, auction.ErrConflict, sqlErr.Error())
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w", msg, auction.ErrNotFound)
		case code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %w", msg, auction.ErrTransient, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// CreateOperator inserts a new operator
func (s *Store) CreateOperator(ctx context.Context, username, passwordHash string) (*models.Operator, error) {
	op := &models.Operator{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators(id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		op.ID, op.Username, op.PasswordHash, formatTime(op.CreatedAt))
	if err != nil {
		return nil, wrapErr(err, "failed to create operator")
	}
	return op, nil
}

// GetOperatorByUsername retrieves an operator by username
func (s *Store) GetOperatorByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var row struct {
		ID           uuid.UUID `db:"id"`
		Username     string    `db:"username"`
		PasswordHash string    `db:"password_hash"`
		CreatedAt    string    `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, username, password_hash, created_at FROM operators WHERE username = ?`, username)
	if err != nil {
		return nil, wrapErr(err, "failed to get operator")
	}
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &models.Operator{ID: row.ID, Username: row.Username, PasswordHash: row.PasswordHash, CreatedAt: created}, nil
}

func encodeSizes(sizes []string) (string, error) {
	if sizes == nil {
		sizes = []string{}
	}
	b, err := json.Marshal(sizes)
	return string(b), err
}

var _ auction.Store = (*Store)(nil)
var _ auction.Tx = (*sqliteTx)(nil)
