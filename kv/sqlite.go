package kv

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clipdex/clipdex/errors"
)

// SQLite is a durable Store backed by a single SQLite table. It gives
// job records the restart survival the engine promises without pulling
// in an external cache service.
//
// Expiry is lazy on read plus a periodic purge callers can run from a
// ticker (see Purge).
type SQLite struct {
	db      *sql.DB
	timeNow func() time.Time
}

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER  -- unix seconds, NULL = no expiry
);
CREATE INDEX IF NOT EXISTS idx_kv_entries_expires ON kv_entries(expires_at);
`

// NewSQLite creates a SQLite-backed store on an existing database handle,
// creating its table if needed.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(kvSchema); err != nil {
		return nil, errors.Wrap(err, "failed to create kv table")
	}
	return &SQLite{db: db, timeNow: time.Now}, nil
}

// Get returns the value for key, or errors.ErrNotFound if absent or expired.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("key not found: %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get kv entry")
	}

	if expiresAt.Valid && expiresAt.Int64 <= s.timeNow().Unix() {
		// Expired - reap it and report absence
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
		return nil, errors.NewNotFound("key not found: %s", key)
	}

	return value, nil
}

// Set writes value under key, resetting its expiry countdown.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.timeNow().Add(ttl).Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set kv entry")
	}
	return nil
}

// Delete removes key. Absent keys are ignored.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return errors.Wrap(err, "failed to delete kv entry")
	}
	return nil
}

// Purge removes all expired entries and returns how many were reaped.
func (s *SQLite) Purge(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.timeNow().Unix(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge expired kv entries")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}
