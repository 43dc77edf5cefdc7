// ABOUTME: Authentication attempt audit rows and retention sweep
// ABOUTME: Every ceremony outcome is recorded for security review

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthAttempt is one recorded authentication attempt, success or failure.
type AuthAttempt struct {
	ID           string
	UserID       string
	CredentialID string
	RemoteAddr   string
	Success      bool
	Duration     time.Duration
	Error        string
	CreatedAt    time.Time
}

// RecordAuthAttempt persists an attempt row. The ID is generated if empty.
func (s *SQLiteStore) RecordAuthAttempt(ctx context.Context, attempt *AuthAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO auth_attempts
			(id, user_id, credential_id, remote_addr, success, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	success := 0
	if attempt.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.UserID,
		attempt.CredentialID,
		attempt.RemoteAddr,
		success,
		attempt.Duration.Milliseconds(),
		attempt.Error,
		attempt.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting auth attempt: %w", err)
	}
	return nil
}

// CountRecentFailures returns the number of failed attempts for userID since
// the cutoff. Used as a fallback when the cache-tier failure counter is cold.
func (s *SQLiteStore) CountRecentFailures(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM auth_attempts
		WHERE user_id = ? AND success = 0 AND created_at >= ?
	`

	var n int
	err := s.db.QueryRowContext(ctx, query, userID, since.UTC().Format(time.RFC3339)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting recent failures: %w", err)
	}
	return n, nil
}

// DeleteAuthAttemptsBefore removes audit rows older than the cutoff,
// enforcing the retention policy. Returns how many rows were removed.
func (s *SQLiteStore) DeleteAuthAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_attempts WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old auth attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}
	return int(n), nil
}
