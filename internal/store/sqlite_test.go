// ABOUTME: Tests for the SQLite durable tier
// ABOUTME: Covers KV expiry semantics, credential upsert/soft-delete, users, audit retention

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestKV_SetGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want %q", got, "v1")
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after delete = %v, want ErrKeyNotFound", err)
	}
}

func TestKV_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get = %v, want ErrKeyNotFound", err)
	}
}

func TestKV_ExpiredEntryIsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "short", []byte("v"), -time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Already past expiry; must be treated as absent before any sweep runs.
	if _, err := s.Get(ctx, "short"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get = %v, want ErrKeyNotFound for expired entry", err)
	}
}

func TestKV_ZeroTTLDoesNotExpire(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.Get(ctx, "forever"); err != nil {
		t.Errorf("Get = %v, want nil for zero-ttl entry", err)
	}

	n, err := s.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("DeleteExpired removed %d rows, want 0", n)
	}
}

func TestKV_SetOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("old"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("new"), time.Minute); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Get = %q, want %q", got, "new")
	}
}

func TestKV_DeleteExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "dead", []byte("v"), -time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "alive", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	n, err := s.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired removed %d rows, want 1", n)
	}
	if _, err := s.Get(ctx, "alive"); err != nil {
		t.Errorf("live entry removed by sweep: %v", err)
	}
}

func TestUpsertCredential_InsertDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.UpsertCredential(ctx, &CredentialRecord{
		CredentialID:      "cred-1",
		UserID:            "user-1",
		PublicKey:         []byte{0x01, 0x02},
		DeviceName:        "yubikey",
		AuthenticatorType: "cross-platform",
		Transports:        `["usb"]`,
		AAGUID:            "aaguid-1",
		CreatedAt:         time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}
	if !created {
		t.Error("created = false, want true for fresh insert")
	}

	cred, err := s.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.SignCount != 0 {
		t.Errorf("SignCount = %d, want 0", cred.SignCount)
	}
	if !cred.IsActive {
		t.Error("IsActive = false, want true")
	}
	if cred.LastUsedAt != nil {
		t.Error("LastUsedAt set on fresh credential")
	}
}

func TestUpsertCredential_UpdateKeepsSignCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := &CredentialRecord{
		CredentialID: "cred-1",
		UserID:       "user-1",
		PublicKey:    []byte{0x01},
		DeviceName:   "key A",
		CreatedAt:    time.Now(),
	}
	if _, err := s.UpsertCredential(ctx, base); err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}
	if err := s.UpdateCredentialUsage(ctx, "cred-1", 7, time.Now()); err != nil {
		t.Fatalf("UpdateCredentialUsage failed: %v", err)
	}

	rotated := &CredentialRecord{
		CredentialID: "cred-1",
		UserID:       "user-1",
		PublicKey:    []byte{0x02},
		DeviceName:   "key A renamed",
		CreatedAt:    time.Now(),
	}
	created, err := s.UpsertCredential(ctx, rotated)
	if err != nil {
		t.Fatalf("second UpsertCredential failed: %v", err)
	}
	if created {
		t.Error("created = true, want false for update")
	}

	cred, err := s.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.SignCount != 7 {
		t.Errorf("SignCount = %d, want 7 (must survive re-registration)", cred.SignCount)
	}
	if string(cred.PublicKey) != string([]byte{0x02}) {
		t.Error("public key was not replaced")
	}
	if cred.DeviceName != "key A renamed" {
		t.Errorf("DeviceName = %q, want updated name", cred.DeviceName)
	}

	creds, err := s.ListCredentialsByUser(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("ListCredentialsByUser failed: %v", err)
	}
	if len(creds) != 1 {
		t.Errorf("credential count = %d, want 1 (no duplicate rows)", len(creds))
	}
}

func TestUpdateCredentialUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertCredential(ctx, &CredentialRecord{
		CredentialID: "cred-1",
		UserID:       "user-1",
		PublicKey:    []byte{0x01},
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}

	if err := s.UpdateCredentialUsage(ctx, "cred-1", 42, time.Now()); err != nil {
		t.Fatalf("UpdateCredentialUsage failed: %v", err)
	}

	cred, err := s.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.SignCount != 42 {
		t.Errorf("SignCount = %d, want 42", cred.SignCount)
	}
	if cred.LastUsedAt == nil {
		t.Error("LastUsedAt not set")
	}
}

func TestUpdateCredentialUsage_Missing(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateCredentialUsage(context.Background(), "nope", 1, time.Now())
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("UpdateCredentialUsage = %v, want ErrCredentialNotFound", err)
	}
}

func TestDeactivateCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertCredential(ctx, &CredentialRecord{
		CredentialID: "cred-1",
		UserID:       "user-1",
		PublicKey:    []byte{0x01},
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}

	if err := s.DeactivateCredential(ctx, "cred-1", "user-1"); err != nil {
		t.Fatalf("DeactivateCredential failed: %v", err)
	}

	if _, err := s.GetCredential(ctx, "cred-1"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("GetCredential after deactivate = %v, want ErrCredentialNotFound", err)
	}

	active, err := s.ListCredentialsByUser(ctx, "user-1", true)
	if err != nil {
		t.Fatalf("ListCredentialsByUser failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active credentials = %d, want 0", len(active))
	}

	// Row is retained for audit history.
	all, err := s.ListCredentialsByUser(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("ListCredentialsByUser failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("total credentials = %d, want 1 (soft delete only)", len(all))
	}
}

func TestDeactivateCredential_WrongOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertCredential(ctx, &CredentialRecord{
		CredentialID: "cred-1",
		UserID:       "user-1",
		PublicKey:    []byte{0x01},
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}

	err := s.DeactivateCredential(ctx, "cred-1", "someone-else")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("DeactivateCredential = %v, want ErrCredentialNotFound", err)
	}
}

func TestUsers_CreateAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &User{
		ID:        "user-1",
		Username:  "alice",
		CreatedAt: time.Now(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if byName.ID != "user-1" {
		t.Errorf("ID = %q, want %q", byName.ID, "user-1")
	}

	if _, err := s.GetUserByUsername(ctx, "bob"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUserByUsername(bob) = %v, want ErrUserNotFound", err)
	}

	dup := &User{ID: "user-2", Username: "alice", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrUsernameExists) {
		t.Errorf("CreateUser duplicate = %v, want ErrUsernameExists", err)
	}
}

func TestUsers_Suspend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, &User{ID: "user-1", Username: "alice", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := s.SetUserSuspended(ctx, "user-1", true); err != nil {
		t.Fatalf("SetUserSuspended failed: %v", err)
	}

	user, err := s.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !user.Suspended {
		t.Error("Suspended = false, want true")
	}
}

func TestAuthAttempts_RecordAndRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &AuthAttempt{
		UserID:       "user-1",
		CredentialID: "cred-1",
		RemoteAddr:   "10.0.0.1",
		Success:      false,
		Duration:     120 * time.Millisecond,
		Error:        "signature mismatch",
		CreatedAt:    time.Now().Add(-48 * time.Hour),
	}
	recent := &AuthAttempt{
		UserID:       "user-1",
		CredentialID: "cred-1",
		RemoteAddr:   "10.0.0.1",
		Success:      false,
		Duration:     80 * time.Millisecond,
		Error:        "challenge expired",
	}
	if err := s.RecordAuthAttempt(ctx, old); err != nil {
		t.Fatalf("RecordAuthAttempt failed: %v", err)
	}
	if err := s.RecordAuthAttempt(ctx, recent); err != nil {
		t.Fatalf("RecordAuthAttempt failed: %v", err)
	}

	n, err := s.CountRecentFailures(ctx, "user-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountRecentFailures failed: %v", err)
	}
	if n != 1 {
		t.Errorf("recent failures = %d, want 1", n)
	}

	removed, err := s.DeleteAuthAttemptsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteAuthAttemptsBefore failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
