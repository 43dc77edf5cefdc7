// ABOUTME: User directory records and read-only lookup methods
// ABOUTME: The auth service only reads users; account CRUD lives elsewhere

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when a user doesn't exist.
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameExists is returned when creating a user with a taken username.
var ErrUsernameExists = errors.New("username already exists")

// User is a directory entry. The auth service consumes it read-only;
// suspension and profile management belong to the account subsystem.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Suspended   bool
	CreatedAt   time.Time
}

// CreateUser provisions a directory entry. Used by seeding and tests; the
// authentication paths never write users.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, display_name, suspended, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	suspended := 0
	if user.Suspended {
		suspended = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.DisplayName,
		suspended,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.queryUser(ctx, `WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.queryUser(ctx, `WHERE username = ?`, username)
}

// SetUserSuspended flips the suspension flag. Exposed for tests and tooling.
func (s *SQLiteStore) SetUserSuspended(ctx context.Context, id string, suspended bool) error {
	v := 0
	if suspended {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET suspended = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("updating user suspension: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting updated rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLiteStore) queryUser(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT id, username, display_name, suspended, created_at FROM users ` + where

	var user User
	var suspended int
	var createdAtStr string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&suspended,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.Suspended = suspended != 0
	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}
