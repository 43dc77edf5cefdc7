// ABOUTME: Credential record type and SQLite persistence methods
// ABOUTME: Upsert keyed by credential ID, soft delete, sign-count tracking

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrCredentialNotFound is returned when a credential doesn't exist or is inactive.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialRecord represents a registered authenticator credential.
// Records are soft-deleted (IsActive=false), never physically removed,
// so the audit history of a credential survives its revocation.
type CredentialRecord struct {
	CredentialID      string
	UserID            string
	PublicKey         []byte // algorithm-tagged COSE key material
	DeviceName        string
	AuthenticatorType string // "platform" or "cross-platform"
	Transports        string // JSON array of transport hints
	AAGUID            string
	SignCount         uint32
	IsActive          bool
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}

// CredentialStore defines the persistence contract for credentials.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, cred *CredentialRecord) (created bool, err error)
	GetCredential(ctx context.Context, credentialID string) (*CredentialRecord, error)
	ListCredentialsByUser(ctx context.Context, userID string, activeOnly bool) ([]*CredentialRecord, error)
	UpdateCredentialUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error
	DeactivateCredential(ctx context.Context, credentialID, userID string) error
}

// Ensure SQLiteStore implements CredentialStore.
var _ CredentialStore = (*SQLiteStore)(nil)

// UpsertCredential inserts a new credential or updates the key material and
// metadata of an existing one in place. Sign count and creation time are
// preserved on update; re-registration of a credential ID must not reset the
// clone-detection counter. Returns whether a new row was created.
func (s *SQLiteStore) UpsertCredential(ctx context.Context, cred *CredentialRecord) (bool, error) {
	insert := `
		INSERT INTO credentials
			(credential_id, user_id, public_key, device_name, authenticator_type,
			 transports, aaguid, sign_count, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1, ?)
	`

	_, err := s.db.ExecContext(ctx, insert,
		cred.CredentialID,
		cred.UserID,
		cred.PublicKey,
		cred.DeviceName,
		cred.AuthenticatorType,
		cred.Transports,
		cred.AAGUID,
		cred.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err == nil {
		s.logger.Info("credential created",
			"credential_id", cred.CredentialID, "user_id", cred.UserID)
		return true, nil
	}
	if !isUniqueConstraintError(err) {
		return false, fmt.Errorf("inserting credential: %w", err)
	}

	// Credential ID already known: authenticator-side rotation. Replace key
	// material and metadata, keep sign_count and created_at.
	update := `
		UPDATE credentials
		SET user_id = ?, public_key = ?, device_name = ?, authenticator_type = ?,
		    transports = ?, aaguid = ?, is_active = 1
		WHERE credential_id = ?
	`

	if _, err := s.db.ExecContext(ctx, update,
		cred.UserID,
		cred.PublicKey,
		cred.DeviceName,
		cred.AuthenticatorType,
		cred.Transports,
		cred.AAGUID,
		cred.CredentialID,
	); err != nil {
		return false, fmt.Errorf("updating credential: %w", err)
	}

	s.logger.Info("credential updated",
		"credential_id", cred.CredentialID, "user_id", cred.UserID)
	return false, nil
}

// GetCredential retrieves an active credential by its credential ID.
// Inactive (soft-deleted) credentials are reported as not found.
func (s *SQLiteStore) GetCredential(ctx context.Context, credentialID string) (*CredentialRecord, error) {
	query := credentialColumns + ` WHERE credential_id = ? AND is_active = 1`

	cred, err := s.scanCredential(s.db.QueryRowContext(ctx, query, credentialID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return cred, nil
}

// ListCredentialsByUser retrieves a user's credentials, newest first.
func (s *SQLiteStore) ListCredentialsByUser(ctx context.Context, userID string, activeOnly bool) ([]*CredentialRecord, error) {
	query := credentialColumns + ` WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []*CredentialRecord
	for rows.Next() {
		cred, err := s.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// UpdateCredentialUsage records a successful authentication: the new
// authenticator-reported sign count and the time of use.
func (s *SQLiteStore) UpdateCredentialUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	query := `
		UPDATE credentials
		SET sign_count = ?, last_used_at = ?
		WHERE credential_id = ? AND is_active = 1
	`

	res, err := s.db.ExecContext(ctx, query,
		signCount,
		usedAt.UTC().Format(time.RFC3339),
		credentialID,
	)
	if err != nil {
		return fmt.Errorf("updating credential usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting updated rows: %w", err)
	}
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// DeactivateCredential soft-deletes a credential owned by userID.
// The row is retained for audit history.
func (s *SQLiteStore) DeactivateCredential(ctx context.Context, credentialID, userID string) error {
	query := `
		UPDATE credentials
		SET is_active = 0
		WHERE credential_id = ? AND user_id = ? AND is_active = 1
	`

	res, err := s.db.ExecContext(ctx, query, credentialID, userID)
	if err != nil {
		return fmt.Errorf("deactivating credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting updated rows: %w", err)
	}
	if n == 0 {
		return ErrCredentialNotFound
	}

	s.logger.Info("credential deactivated", "credential_id", credentialID, "user_id", userID)
	return nil
}

const credentialColumns = `
	SELECT credential_id, user_id, public_key, device_name, authenticator_type,
	       transports, aaguid, sign_count, is_active, created_at, last_used_at
	FROM credentials`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanCredential(row rowScanner) (*CredentialRecord, error) {
	var cred CredentialRecord
	var isActive int
	var createdAtStr string
	var lastUsedAt sql.NullString

	err := row.Scan(
		&cred.CredentialID,
		&cred.UserID,
		&cred.PublicKey,
		&cred.DeviceName,
		&cred.AuthenticatorType,
		&cred.Transports,
		&cred.AAGUID,
		&cred.SignCount,
		&isActive,
		&createdAtStr,
		&lastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.IsActive = isActive != 0
	cred.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastUsedAt.Valid {
		t, err := time.Parse(time.RFC3339, lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		cred.LastUsedAt = &t
	}
	return &cred, nil
}
