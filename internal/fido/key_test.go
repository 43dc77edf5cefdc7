// ABOUTME: Tests for COSE key decoding and assertion signature verification
// ABOUTME: Verifier must return false, never panic, on malformed input

package fido

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublicKey_ES256(t *testing.T) {
	_, material := newES256Material(t)

	key, err := ParsePublicKey(material)
	require.NoError(t, err)
	assert.Equal(t, AlgES256, key.Algorithm())
}

func TestParsePublicKey_RS256(t *testing.T) {
	_, material := newRS256Material(t)

	key, err := ParsePublicKey(material)
	require.NoError(t, err)
	assert.Equal(t, AlgRS256, key.Algorithm())
}

func TestParsePublicKey_UnsupportedAlgorithm(t *testing.T) {
	material, err := cbor.Marshal(map[int]any{1: 1, 3: -8}) // EdDSA
	require.NoError(t, err)

	_, err = ParsePublicKey(material)
	assert.Error(t, err)
}

func TestParsePublicKey_MalformedCBOR(t *testing.T) {
	_, err := ParsePublicKey([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func TestParsePublicKey_PointNotOnCurve(t *testing.T) {
	x := make([]byte, 32)
	y := make([]byte, 32)
	x[31] = 0x01
	y[31] = 0x01
	material, err := cbor.Marshal(map[int]any{
		1:  coseKeyTypeEC2,
		3:  int(AlgES256),
		-1: coseCurveP256,
		-2: x,
		-3: y,
	})
	require.NoError(t, err)

	_, err = ParsePublicKey(material)
	assert.Error(t, err)
}

func TestVerifyAssertion_ES256(t *testing.T) {
	priv, material := newES256Material(t)
	authData := buildAuthData(t, 5, [16]byte{}, nil, nil)
	clientDataJSON := []byte(`{"type":"webauthn.get","challenge":"xyz","origin":"https://example.com"}`)
	sig := signES256(t, priv, authData, clientDataJSON)

	assert.True(t, VerifyAssertion(authData, clientDataJSON, sig, material))
}

func TestVerifyAssertion_RS256(t *testing.T) {
	priv, material := newRS256Material(t)
	authData := buildAuthData(t, 5, [16]byte{}, nil, nil)
	clientDataJSON := []byte(`{"type":"webauthn.get","challenge":"xyz","origin":"https://example.com"}`)
	sig := signRS256(t, priv, authData, clientDataJSON)

	assert.True(t, VerifyAssertion(authData, clientDataJSON, sig, material))
}

func TestVerifyAssertion_TamperedSignature(t *testing.T) {
	priv, material := newES256Material(t)
	authData := buildAuthData(t, 5, [16]byte{}, nil, nil)
	clientDataJSON := []byte(`{"type":"webauthn.get","challenge":"xyz"}`)
	sig := signES256(t, priv, authData, clientDataJSON)
	sig[len(sig)/2] ^= 0x01

	assert.False(t, VerifyAssertion(authData, clientDataJSON, sig, material))
}

func TestVerifyAssertion_TamperedClientData(t *testing.T) {
	priv, material := newES256Material(t)
	authData := buildAuthData(t, 5, [16]byte{}, nil, nil)
	clientDataJSON := []byte(`{"type":"webauthn.get","challenge":"xyz"}`)
	sig := signES256(t, priv, authData, clientDataJSON)

	tampered := []byte(`{"type":"webauthn.get","challenge":"other"}`)
	assert.False(t, VerifyAssertion(authData, tampered, sig, material))
}

func TestVerifyAssertion_WrongKey(t *testing.T) {
	priv, _ := newES256Material(t)
	_, otherMaterial := newES256Material(t)
	authData := buildAuthData(t, 5, [16]byte{}, nil, nil)
	clientDataJSON := []byte(`{"type":"webauthn.get","challenge":"xyz"}`)
	sig := signES256(t, priv, authData, clientDataJSON)

	assert.False(t, VerifyAssertion(authData, clientDataJSON, sig, otherMaterial))
}

// Malformed inputs of every kind must yield false, never a panic.
func TestVerifyAssertion_MalformedInput(t *testing.T) {
	priv, material := newES256Material(t)
	authData := buildAuthData(t, 5, [16]byte{}, nil, nil)
	clientDataJSON := []byte(`{"type":"webauthn.get","challenge":"xyz"}`)
	sig := signES256(t, priv, authData, clientDataJSON)

	unsupported, err := cbor.Marshal(map[int]any{1: 1, 3: -8})
	require.NoError(t, err)

	cases := map[string]struct {
		authData, clientData, sig, key []byte
	}{
		"malformed key":      {authData, clientDataJSON, sig, []byte{0x01, 0x02}},
		"empty key":          {authData, clientDataJSON, sig, nil},
		"unsupported alg":    {authData, clientDataJSON, sig, unsupported},
		"short auth data":    {authData[:20], clientDataJSON, sig, material},
		"empty auth data":    {nil, clientDataJSON, sig, material},
		"empty signature":    {authData, clientDataJSON, nil, material},
		"garbage signature":  {authData, clientDataJSON, []byte{0xff}, material},
		"empty client data":  {authData, nil, sig, material},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, VerifyAssertion(c.authData, c.clientData, c.sig, c.key))
		})
	}
}
