// ABOUTME: External projection of credential records
// ABOUTME: Strips public key and sign count before data leaves the service

package credential

import (
	"encoding/json"
	"time"

	"github.com/2389/passkey-auth/internal/store"
)

// Projection is the externally safe view of a credential. It deliberately
// has no public-key or sign-count fields; those stay internal to
// verification.
type Projection struct {
	CredentialID      string     `json:"credential_id"`
	DeviceName        string     `json:"device_name"`
	AuthenticatorType string     `json:"authenticator_type"`
	Transports        []string   `json:"transports"`
	AAGUID            string     `json:"aaguid,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

// Project converts a record to its external view.
func Project(rec *store.CredentialRecord) Projection {
	var transports []string
	_ = json.Unmarshal([]byte(rec.Transports), &transports)

	return Projection{
		CredentialID:      rec.CredentialID,
		DeviceName:        rec.DeviceName,
		AuthenticatorType: rec.AuthenticatorType,
		Transports:        transports,
		AAGUID:            rec.AAGUID,
		CreatedAt:         rec.CreatedAt,
		LastUsedAt:        rec.LastUsedAt,
	}
}

// ProjectAll converts a slice of records.
func ProjectAll(recs []*store.CredentialRecord) []Projection {
	out := make([]Projection, len(recs))
	for i, rec := range recs {
		out[i] = Project(rec)
	}
	return out
}
