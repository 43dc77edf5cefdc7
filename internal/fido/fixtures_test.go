// ABOUTME: Test fixture builders for WebAuthn binary structures
// ABOUTME: Generates real keys and well-formed CBOR for codec and verifier tests

package fido

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// newES256Material generates a P-256 key pair and its COSE encoding.
func newES256Material(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	x := priv.PublicKey.X.FillBytes(make([]byte, 32))
	y := priv.PublicKey.Y.FillBytes(make([]byte, 32))
	material, err := cbor.Marshal(map[int]any{
		1:  coseKeyTypeEC2,
		3:  int(AlgES256),
		-1: coseCurveP256,
		-2: x,
		-3: y,
	})
	require.NoError(t, err)
	return priv, material
}

// newRS256Material generates an RSA key pair and its COSE encoding.
func newRS256Material(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	material, err := cbor.Marshal(map[int]any{
		1:  coseKeyTypeRSA,
		3:  int(AlgRS256),
		-1: priv.PublicKey.N.Bytes(),
		-2: []byte{0x01, 0x00, 0x01}, // 65537
	})
	require.NoError(t, err)
	return priv, material
}

// buildAuthData assembles an authenticator data block. When coseKey is
// non-nil the attested-credential-data flag is set and AAGUID/credential ID
// are included.
func buildAuthData(t *testing.T, signCount uint32, aaguid [16]byte, credID, coseKey []byte) []byte {
	t.Helper()
	rpIDHash := sha256.Sum256([]byte("example.com"))

	flags := byte(FlagUserPresent)
	if coseKey != nil {
		flags |= FlagAttestedCredentialData
	}

	b := make([]byte, 0, 128)
	b = append(b, rpIDHash[:]...)
	b = append(b, flags)
	b = binary.BigEndian.AppendUint32(b, signCount)
	if coseKey != nil {
		b = append(b, aaguid[:]...)
		b = binary.BigEndian.AppendUint16(b, uint16(len(credID)))
		b = append(b, credID...)
		b = append(b, coseKey...)
	}
	return b
}

// buildAttestationObject wraps authData in the outer CBOR structure.
func buildAttestationObject(t *testing.T, authData []byte) []byte {
	t.Helper()
	obj, err := cbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": authData,
	})
	require.NoError(t, err)
	return obj
}

// signES256 produces an assertion signature for the given message parts.
func signES256(t *testing.T, priv *ecdsa.PrivateKey, authData, clientDataJSON []byte) []byte {
	t.Helper()
	cdHash := sha256.Sum256(clientDataJSON)
	digest := sha256.Sum256(append(append([]byte{}, authData...), cdHash[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	return sig
}

// signRS256 produces an RSA assertion signature for the given message parts.
func signRS256(t *testing.T, priv *rsa.PrivateKey, authData, clientDataJSON []byte) []byte {
	t.Helper()
	cdHash := sha256.Sum256(clientDataJSON)
	digest := sha256.Sum256(append(append([]byte{}, authData...), cdHash[:]...))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return sig
}
