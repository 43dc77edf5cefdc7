// ABOUTME: SQLite implementation of the durable tier using modernc.org/sqlite
// ABOUTME: Holds the KV challenge namespace plus credential/user/audit collections

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable tier. It implements KV for challenge storage
// and provides typed methods for the credential, user, and audit collections.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_kv_entries_expires
			ON kv_entries(expires_at);

		CREATE TABLE IF NOT EXISTS credentials (
			credential_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			public_key BLOB NOT NULL,
			device_name TEXT NOT NULL DEFAULT '',
			authenticator_type TEXT NOT NULL DEFAULT '',
			transports TEXT NOT NULL DEFAULT '[]',
			aaguid TEXT NOT NULL DEFAULT '',
			sign_count INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			last_used_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_credentials_user
			ON credentials(user_id);

		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			suspended INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS auth_attempts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			credential_id TEXT NOT NULL,
			remote_addr TEXT NOT NULL,
			success INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_auth_attempts_created
			ON auth_attempts(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements KV.
var _ KV = (*SQLiteStore)(nil)

// Get returns the value for key, or ErrKeyNotFound if absent or expired.
// Expired rows are treated as absent even before the sweep removes them.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value, expires_at FROM kv_entries WHERE key = ?`

	var value []byte
	var expiresAt sql.NullString
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying kv entry: %w", err)
	}

	if expiresAt.Valid {
		exp, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		if time.Now().After(exp) {
			return nil, ErrKeyNotFound
		}
	}
	return value, nil
}

// Set stores value under key, replacing any existing entry.
// A zero ttl stores the entry without expiry.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`

	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UTC().Format(time.RFC3339)
	}

	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("upserting kv entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting kv entry: %w", err)
	}
	return nil
}

// DeleteExpired removes all expired KV rows and returns how many were removed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	query := `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at < ?`

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired kv entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted kv entries: %w", err)
	}
	return int(n), nil
}

// isUniqueConstraintError reports whether err is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
