// ABOUTME: Credential lifecycle service with cache-aside derived views
// ABOUTME: The durable store is authoritative; caching is best effort only

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/passkey-auth/internal/store"
)

// cacheTTL bounds how stale the derived credential views can get if an
// invalidation is lost.
const cacheTTL = 5 * time.Minute

var (
	// ErrValidation is returned when a required field is empty.
	ErrValidation = errors.New("missing required field")

	// ErrNotFound is returned when a credential is absent or inactive.
	ErrNotFound = errors.New("credential not found")
)

// Service manages authenticator credentials. Reads go cache-first; every
// mutation writes the durable store and then invalidates the per-credential
// entry and the owner's list view.
type Service struct {
	db     store.CredentialStore
	cache  store.KV
	logger *slog.Logger
}

// NewService creates a credential service over the durable store and the
// cache tier.
func NewService(db store.CredentialStore, cache store.KV) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		logger: slog.Default().With("component", "credential"),
	}
}

// Params carries the registration-supplied fields for Store.
type Params struct {
	UserID            string
	CredentialID      string
	PublicKey         []byte
	DeviceName        string
	AuthenticatorType string
	Transports        []string
	AAGUID            string
}

// Store upserts a credential keyed by its credential ID. A new credential
// starts with sign count zero and active; re-registering a known ID updates
// the key material and metadata in place without touching the sign count.
func (s *Service) Store(ctx context.Context, p Params) (*store.CredentialRecord, error) {
	if p.UserID == "" || p.CredentialID == "" || len(p.PublicKey) == 0 {
		return nil, ErrValidation
	}

	transports, err := json.Marshal(p.Transports)
	if err != nil {
		return nil, fmt.Errorf("encoding transports: %w", err)
	}

	rec := &store.CredentialRecord{
		CredentialID:      p.CredentialID,
		UserID:            p.UserID,
		PublicKey:         p.PublicKey,
		DeviceName:        p.DeviceName,
		AuthenticatorType: p.AuthenticatorType,
		Transports:        string(transports),
		AAGUID:            p.AAGUID,
		CreatedAt:         time.Now(),
	}
	if _, err := s.db.UpsertCredential(ctx, rec); err != nil {
		return nil, err
	}
	s.invalidate(ctx, p.CredentialID, p.UserID)

	stored, err := s.db.GetCredential(ctx, p.CredentialID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetByID returns an active credential, cache-first.
func (s *Service) GetByID(ctx context.Context, credentialID string) (*store.CredentialRecord, error) {
	if credentialID == "" {
		return nil, ErrValidation
	}

	if data, err := s.cache.Get(ctx, credKey(credentialID)); err == nil {
		var rec store.CredentialRecord
		if err := json.Unmarshal(data, &rec); err == nil {
			return &rec, nil
		}
		// Undecodable cache entry: fall through to the durable store.
		_ = s.cache.Delete(ctx, credKey(credentialID))
	}

	rec, err := s.db.GetCredential(ctx, credentialID)
	if errors.Is(err, store.ErrCredentialNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.cachePut(ctx, credKey(credentialID), rec)
	return rec, nil
}

// ListForUser returns a user's credentials. Cached entries retain the
// public key and sign count because verification needs them; strip with
// Project before handing records to external callers.
func (s *Service) ListForUser(ctx context.Context, userID string, activeOnly bool) ([]*store.CredentialRecord, error) {
	if userID == "" {
		return nil, ErrValidation
	}

	// Only the active-only view is cached; it is the hot path (every
	// begin_authentication call).
	if activeOnly {
		if data, err := s.cache.Get(ctx, listKey(userID)); err == nil {
			var recs []*store.CredentialRecord
			if err := json.Unmarshal(data, &recs); err == nil {
				return recs, nil
			}
			_ = s.cache.Delete(ctx, listKey(userID))
		}
	}

	recs, err := s.db.ListCredentialsByUser(ctx, userID, activeOnly)
	if err != nil {
		return nil, err
	}
	if activeOnly {
		s.cachePut(ctx, listKey(userID), recs)
	}
	return recs, nil
}

// UpdateUsage records a successful authentication: the authenticator's new
// sign count and the time of use.
func (s *Service) UpdateUsage(ctx context.Context, credentialID string, signCount uint32) error {
	if credentialID == "" {
		return ErrValidation
	}

	rec, err := s.GetByID(ctx, credentialID)
	if err != nil {
		return err
	}

	if err := s.db.UpdateCredentialUsage(ctx, credentialID, signCount, time.Now()); err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.invalidate(ctx, credentialID, rec.UserID)
	return nil
}

// ValidateOwnership reports whether an active credential with the given ID
// exists and belongs to userID.
func (s *Service) ValidateOwnership(ctx context.Context, credentialID, userID string) (bool, error) {
	rec, err := s.GetByID(ctx, credentialID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.UserID == userID, nil
}

// Deactivate soft-deletes a credential owned by userID. The record is
// retained for audit history and excluded from all active views.
func (s *Service) Deactivate(ctx context.Context, credentialID, userID string) error {
	if credentialID == "" || userID == "" {
		return ErrValidation
	}

	if err := s.db.DeactivateCredential(ctx, credentialID, userID); err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.invalidate(ctx, credentialID, userID)
	return nil
}

// invalidate drops both derived views. It runs strictly after the durable
// write so a concurrent reader can at worst re-cache fresh data.
func (s *Service) invalidate(ctx context.Context, credentialID, userID string) {
	if err := s.cache.Delete(ctx, credKey(credentialID)); err != nil {
		s.logger.Warn("credential cache invalidation failed", "error", err)
	}
	if err := s.cache.Delete(ctx, listKey(userID)); err != nil {
		s.logger.Warn("credential list cache invalidation failed", "error", err)
	}
}

func (s *Service) cachePut(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, cacheTTL); err != nil {
		s.logger.Warn("credential cache write failed", "error", err)
	}
}

func credKey(credentialID string) string {
	return "webauthn:credential:" + credentialID
}

func listKey(userID string) string {
	return "webauthn:credentials:user:" + userID
}
