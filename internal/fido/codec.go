// ABOUTME: Base64url transforms, client data JSON, and authenticator data parsing
// ABOUTME: Binary layout per the WebAuthn authenticator-data specification

package fido

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Client data ceremony types.
const (
	CeremonyCreate = "webauthn.create"
	CeremonyGet    = "webauthn.get"
)

// Authenticator data flag bits.
const (
	FlagUserPresent            = 1 << 0
	FlagUserVerified           = 1 << 2
	FlagAttestedCredentialData = 1 << 6
	FlagExtensions             = 1 << 7
)

// authDataMinLen is the fixed header: 32-byte RP ID hash, 1 flags byte,
// 4-byte big-endian sign count.
const authDataMinLen = 37

var errNoAttestedCredential = errors.New("no attested credential data")

// Base64URLEncode encodes b as unpadded URL-safe base64.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes an URL-safe base64 string, with or without padding.
func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ClientData is the parsed clientDataJSON payload the browser passes to the
// authenticator. Challenge is the base64url string the client echoes back;
// it compares directly against the issued challenge value.
type ClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin"`
}

// ParseClientData decodes a clientDataJSON payload.
func ParseClientData(b []byte) (*ClientData, error) {
	var cd ClientData
	if err := json.Unmarshal(b, &cd); err != nil {
		return nil, fmt.Errorf("parsing client data: %w", err)
	}
	if cd.Type == "" {
		return nil, errors.New("client data missing type")
	}
	if cd.Challenge == "" {
		return nil, errors.New("client data missing challenge")
	}
	return &cd, nil
}

// AuthenticatorData is the parsed binary authenticator-data block.
// AAGUID, CredentialID, and PublicKey are only populated when the attested
// credential data flag is set (registration responses).
type AuthenticatorData struct {
	RPIDHash     [32]byte
	Flags        byte
	SignCount    uint32
	AAGUID       [16]byte
	CredentialID []byte
	PublicKey    []byte // raw COSE key material
}

// UserPresent reports whether the user-presence test succeeded.
func (a *AuthenticatorData) UserPresent() bool {
	return a.Flags&FlagUserPresent != 0
}

// UserVerified reports whether the authenticator verified the user.
func (a *AuthenticatorData) UserVerified() bool {
	return a.Flags&FlagUserVerified != 0
}

// ParseAuthenticatorData parses the authenticator data block from either a
// registration or an authentication response.
func ParseAuthenticatorData(b []byte) (*AuthenticatorData, error) {
	if len(b) < authDataMinLen {
		return nil, fmt.Errorf("authenticator data too short: %d bytes", len(b))
	}

	var ad AuthenticatorData
	copy(ad.RPIDHash[:], b[:32])
	ad.Flags = b[32]
	ad.SignCount = binary.BigEndian.Uint32(b[33:37])

	if ad.Flags&FlagAttestedCredentialData == 0 {
		return &ad, nil
	}

	rest := b[authDataMinLen:]
	if len(rest) < 18 {
		return nil, errors.New("attested credential data truncated")
	}
	copy(ad.AAGUID[:], rest[:16])

	credLen := int(binary.BigEndian.Uint16(rest[16:18]))
	rest = rest[18:]
	if len(rest) < credLen {
		return nil, errors.New("credential ID truncated")
	}
	ad.CredentialID = append([]byte(nil), rest[:credLen]...)
	rest = rest[credLen:]

	// The COSE key is the next CBOR item; extensions may follow.
	var raw cbor.RawMessage
	if err := cbor.NewDecoder(bytes.NewReader(rest)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding credential public key: %w", err)
	}
	ad.PublicKey = []byte(raw)
	return &ad, nil
}

// attestationObject is the outer CBOR structure of a registration response.
type attestationObject struct {
	Format   string          `cbor:"fmt"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

func parseAttestationObject(b []byte) (*attestationObject, error) {
	var obj attestationObject
	if err := cbor.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("decoding attestation object: %w", err)
	}
	if len(obj.AuthData) == 0 {
		return nil, errors.New("attestation object missing authData")
	}
	return &obj, nil
}

// ParseAttestation parses a registration attestation object down to its
// authenticator data, which must carry attested credential data.
func ParseAttestation(attObj []byte) (*AuthenticatorData, error) {
	obj, err := parseAttestationObject(attObj)
	if err != nil {
		return nil, err
	}
	ad, err := ParseAuthenticatorData(obj.AuthData)
	if err != nil {
		return nil, err
	}
	if len(ad.CredentialID) == 0 || len(ad.PublicKey) == 0 {
		return nil, errNoAttestedCredential
	}
	return ad, nil
}

// ExtractPublicKey returns the algorithm-tagged COSE key material embedded
// in a registration attestation object. The bytes are stored opaquely and
// decoded again at verification time.
func ExtractPublicKey(attObj []byte) ([]byte, error) {
	ad, err := ParseAttestation(attObj)
	if err != nil {
		return nil, err
	}
	return ad.PublicKey, nil
}

// ExtractAAGUID returns the authenticator model identifier: the fixed
// 16-byte field immediately after the 37-byte authenticator-data header.
func ExtractAAGUID(attObj []byte) ([16]byte, error) {
	var aaguid [16]byte
	obj, err := parseAttestationObject(attObj)
	if err != nil {
		return aaguid, err
	}
	if len(obj.AuthData) < authDataMinLen+16 {
		return aaguid, errors.New("authenticator data too short for AAGUID")
	}
	copy(aaguid[:], obj.AuthData[authDataMinLen:authDataMinLen+16])
	return aaguid, nil
}

// FormatAAGUID renders an AAGUID in its canonical UUID form.
func FormatAAGUID(aaguid [16]byte) string {
	id, err := uuid.FromBytes(aaguid[:])
	if err != nil {
		return ""
	}
	return id.String()
}
