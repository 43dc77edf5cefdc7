// ABOUTME: COSE public key decoding into a tagged variant per algorithm
// ABOUTME: Each variant owns its key material and verification routine

package fido

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Algorithm is a COSE algorithm identifier.
type Algorithm int64

// Algorithms supported for assertion verification.
const (
	AlgES256 Algorithm = -7   // ECDSA w/ SHA-256 over P-256
	AlgRS256 Algorithm = -257 // RSASSA-PKCS1-v1_5 w/ SHA-256
)

// String returns the IANA name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgES256:
		return "ES256"
	case AlgRS256:
		return "RS256"
	default:
		return fmt.Sprintf("Algorithm(%d)", int64(a))
	}
}

// COSE key type and curve identifiers.
const (
	coseKeyTypeEC2 = 2
	coseKeyTypeRSA = 3
	coseCurveP256  = 1
)

// PublicKey is an algorithm-tagged credential public key. Each variant
// carries its typed key material and its own verification routine, so
// callers never branch on an algorithm code.
type PublicKey interface {
	Algorithm() Algorithm
	// Verify reports whether sig is a valid signature over message.
	Verify(message, sig []byte) bool
}

// ES256Key is a P-256 ECDSA public key (COSE EC2, alg -7).
type ES256Key struct {
	pub *ecdsa.PublicKey
}

// Algorithm returns AlgES256.
func (k *ES256Key) Algorithm() Algorithm { return AlgES256 }

// Verify checks an ASN.1 DER-encoded ECDSA signature over SHA-256(message).
func (k *ES256Key) Verify(message, sig []byte) bool {
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(k.pub, digest[:], sig)
}

// RS256Key is an RSA public key used with PKCS#1 v1.5 / SHA-256 (alg -257).
type RS256Key struct {
	pub *rsa.PublicKey
}

// Algorithm returns AlgRS256.
func (k *RS256Key) Algorithm() Algorithm { return AlgRS256 }

// Verify checks an RSASSA-PKCS1-v1_5 signature over SHA-256(message).
func (k *RS256Key) Verify(message, sig []byte) bool {
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(k.pub, crypto.SHA256, digest[:], sig) == nil
}

// coseKeyHeader carries the labels common to every COSE key.
type coseKeyHeader struct {
	KeyType   int64 `cbor:"1,keyasint"`
	Algorithm int64 `cbor:"3,keyasint"`
}

// coseEC2Key uses labels -1 (curve), -2 (x), -3 (y).
type coseEC2Key struct {
	Curve int64  `cbor:"-1,keyasint"`
	X     []byte `cbor:"-2,keyasint"`
	Y     []byte `cbor:"-3,keyasint"`
}

// coseRSAKey reuses labels -1 (modulus) and -2 (exponent); the label
// meanings depend on the key type, which is why decoding happens in two
// passes.
type coseRSAKey struct {
	N []byte `cbor:"-1,keyasint"`
	E []byte `cbor:"-2,keyasint"`
}

// ParsePublicKey decodes stored COSE key material into its tagged variant.
func ParsePublicKey(material []byte) (PublicKey, error) {
	var hdr coseKeyHeader
	if err := cbor.Unmarshal(material, &hdr); err != nil {
		return nil, fmt.Errorf("decoding COSE key: %w", err)
	}

	switch Algorithm(hdr.Algorithm) {
	case AlgES256:
		if hdr.KeyType != coseKeyTypeEC2 {
			return nil, fmt.Errorf("ES256 key has key type %d, want EC2", hdr.KeyType)
		}
		return parseES256(material)
	case AlgRS256:
		if hdr.KeyType != coseKeyTypeRSA {
			return nil, fmt.Errorf("RS256 key has key type %d, want RSA", hdr.KeyType)
		}
		return parseRS256(material)
	default:
		return nil, fmt.Errorf("unsupported algorithm %d", hdr.Algorithm)
	}
}

func parseES256(material []byte) (*ES256Key, error) {
	var k coseEC2Key
	if err := cbor.Unmarshal(material, &k); err != nil {
		return nil, fmt.Errorf("decoding EC2 key: %w", err)
	}
	if k.Curve != coseCurveP256 {
		return nil, fmt.Errorf("unsupported curve %d", k.Curve)
	}
	if len(k.X) == 0 || len(k.Y) == 0 || len(k.X) > 32 || len(k.Y) > 32 {
		return nil, errors.New("invalid P-256 coordinates")
	}

	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, errors.New("point not on P-256")
	}
	return &ES256Key{pub: pub}, nil
}

func parseRS256(material []byte) (*RS256Key, error) {
	var k coseRSAKey
	if err := cbor.Unmarshal(material, &k); err != nil {
		return nil, fmt.Errorf("decoding RSA key: %w", err)
	}
	if len(k.N) == 0 || len(k.E) == 0 || len(k.E) > 4 {
		return nil, errors.New("invalid RSA parameters")
	}

	e := 0
	for _, b := range k.E {
		e = e<<8 | int(b)
	}
	if e < 3 {
		return nil, errors.New("invalid RSA exponent")
	}
	return &RS256Key{pub: &rsa.PublicKey{
		N: new(big.Int).SetBytes(k.N),
		E: e,
	}}, nil
}

// VerifyAssertion reports whether signature is a valid assertion signature
// over authenticatorData ‖ SHA-256(clientDataJSON) under the stored COSE
// key material. Malformed input of any kind yields false; the function
// never returns an error or panics on attacker-controlled bytes.
func VerifyAssertion(authenticatorData, clientDataJSON, signature, keyMaterial []byte) bool {
	if len(authenticatorData) < authDataMinLen || len(signature) == 0 {
		return false
	}
	key, err := ParsePublicKey(keyMaterial)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(clientDataJSON)
	message := make([]byte, 0, len(authenticatorData)+len(digest))
	message = append(message, authenticatorData...)
	message = append(message, digest[:]...)
	return key.Verify(message, signature)
}
