// ABOUTME: Challenge issuance, one-time validation, and expiry sweeps
// ABOUTME: Backed by the tiered KV store; consumed challenges are gone for good

package challenge

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/passkey-auth/internal/fido"
	"github.com/2389/passkey-auth/internal/store"
)

// Type distinguishes registration challenges from authentication challenges.
type Type string

const (
	TypeRegistration   Type = "registration"
	TypeAuthentication Type = "authentication"
)

// DefaultTTL is how long an issued challenge stays valid.
const DefaultTTL = 5 * time.Minute

// challengeBytes is the entropy of a generated challenge. 32 bytes encodes
// to 43 unpadded base64url characters.
const challengeBytes = 32

var (
	// ErrValidation is returned when a required field is empty.
	ErrValidation = errors.New("missing required field")

	// ErrNotFound is returned when a challenge is absent, expired, consumed,
	// or bound to a different user or ceremony type. The cases are not
	// distinguished so callers can't probe for live challenges.
	ErrNotFound = errors.New("challenge not found")
)

// Record is a stored challenge. UserID is empty for unbound challenges;
// authentication challenges are issued unbound so a stolen credential ID
// can't be used to learn which user it belongs to.
type Record struct {
	Value     string    `json:"value"`
	Type      Type      `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager issues and validates single-use challenges.
//
// A challenge moves ISSUED → CONSUMED through exactly one successful
// Validate, or ISSUED → EXPIRED through its TTL; both states are terminal.
// Two concurrent Validate calls racing on the same value can in principle
// both observe it before either deletes it; a legitimate ceremony has
// exactly one caller per challenge, so the race is only reachable by
// duplicate/replayed submissions and is accepted.
type Manager struct {
	kv       store.KV
	ttl      time.Duration
	sweepers []store.Sweeper
	logger   *slog.Logger
}

// NewManager creates a challenge manager over the given (typically tiered)
// KV store. Sweepers are the underlying tiers to reconcile during
// CleanupExpired. A non-positive ttl falls back to DefaultTTL.
func NewManager(kv store.KV, ttl time.Duration, sweepers ...store.Sweeper) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		kv:       kv,
		ttl:      ttl,
		sweepers: sweepers,
		logger:   slog.Default().With("component", "challenge"),
	}
}

// Generate returns a fresh challenge value: 32 cryptographically random
// bytes, unpadded base64url.
func (m *Manager) Generate() (string, error) {
	b := make([]byte, challengeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	return fido.Base64URLEncode(b), nil
}

// Store persists a challenge in both tiers with the configured TTL.
// userID may be empty for unbound challenges.
func (m *Manager) Store(ctx context.Context, value, userID string, typ Type) error {
	if value == "" || typ == "" {
		return ErrValidation
	}

	now := time.Now()
	rec := &Record{
		Value:     value,
		Type:      typ,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding challenge: %w", err)
	}
	if err := m.kv.Set(ctx, challengeKey(value), data, m.ttl); err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}

	m.logger.Debug("challenge issued", "type", typ, "bound", userID != "")
	return nil
}

// Validate consumes a challenge. It succeeds at most once per stored value:
// on success the challenge is deleted from both tiers and the record
// returned. A type mismatch, a bound-user mismatch, expiry, or absence all
// return ErrNotFound.
func (m *Manager) Validate(ctx context.Context, value, userID string, typ Type) (*Record, error) {
	if value == "" || typ == "" {
		return nil, ErrValidation
	}

	data, err := m.kv.Get(ctx, challengeKey(value))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading challenge: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding challenge: %w", err)
	}

	if time.Now().After(rec.ExpiresAt) {
		// The durable tier keeps rows until the sweep; reap eagerly.
		_ = m.kv.Delete(ctx, challengeKey(value))
		return nil, ErrNotFound
	}
	if rec.Type != typ {
		return nil, ErrNotFound
	}
	if rec.UserID != "" && rec.UserID != userID {
		return nil, ErrNotFound
	}

	if err := m.kv.Delete(ctx, challengeKey(value)); err != nil {
		return nil, fmt.Errorf("consuming challenge: %w", err)
	}

	m.logger.Debug("challenge consumed", "type", typ)
	return &rec, nil
}

// Clear deletes a challenge without consuming it, used when a ceremony is
// aborted before completion.
func (m *Manager) Clear(ctx context.Context, value string) error {
	if value == "" {
		return ErrValidation
	}
	return m.kv.Delete(ctx, challengeKey(value))
}

// CleanupExpired sweeps both tiers for entries that outlived their TTL,
// reconciling any tier desynchronization. Returns the total removed.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	total := 0
	for _, s := range m.sweepers {
		n, err := s.DeleteExpired(ctx)
		if err != nil {
			m.logger.Warn("challenge sweep failed", "error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		m.logger.Info("swept expired challenges", "count", total)
	}
	return total
}

// RunCleanup sweeps on the given interval until ctx is cancelled.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired(ctx)
		}
	}
}

func challengeKey(value string) string {
	return "webauthn:challenge:" + value
}
