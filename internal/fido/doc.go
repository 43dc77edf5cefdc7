// ABOUTME: Package documentation for the WebAuthn binary codec and verifier
// ABOUTME: Pure functions, no storage or transport dependencies

// Package fido decodes WebAuthn/FIDO2 binary structures and verifies
// assertion signatures.
//
// It is a leaf package of pure functions: CBOR attestation-object decoding,
// authenticator-data parsing, COSE public-key extraction, and signature
// verification over authenticatorData ‖ SHA-256(clientDataJSON).
//
// Verification exposes a single boolean outcome. Malformed input, an
// unsupported algorithm, and a signature mismatch all yield false; callers
// never need to distinguish why verification failed.
//
// Attestation trust-chain validation (vendor certificates) is deliberately
// not implemented here.
package fido
