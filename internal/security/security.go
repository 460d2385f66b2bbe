// Package security holds the cryptographic primitives shared by the bridge:
// envelope fingerprinting and Ed25519 signature checks against trust store
// keys.
package security

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

// ErrSignatureInvalid is returned when an Ed25519 detached signature does
// not verify against the sender's trusted key.
var ErrSignatureInvalid = errors.New("signature verification failed")

// EnvelopeFingerprint produces the deterministic hex fingerprint for an
// envelope: BLAKE3 over the length-prefixed concatenation of the fields.
// The 4-byte big-endian length prefix keeps field boundaries unambiguous,
// so distinct (sender, type, data) tuples never collide by concatenation.
func EnvelopeFingerprint(fields ...[]byte) string {
	hasher := blake3.New(32, nil)
	var prefix [4]byte
	for _, chunk := range fields {
		prefix[0] = byte(len(chunk) >> 24)
		prefix[1] = byte(len(chunk) >> 16)
		prefix[2] = byte(len(chunk) >> 8)
		prefix[3] = byte(len(chunk))
		hasher.Write(prefix[:])
		hasher.Write(chunk)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// VerifySignature checks an Ed25519 detached signature over payload.
func VerifySignature(payload, signature []byte, key ed25519.PublicKey) error {
	if len(signature) != ed25519.SignatureSize {
		return ErrSignatureInvalid
	}
	if !ed25519.Verify(key, payload, signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign produces an Ed25519 detached signature over payload.
func Sign(payload []byte, key ed25519.PrivateKey) []byte {
	return ed25519.Sign(key, payload)
}

// DecodeHex decodes a hex string, labelling the error for configuration
// diagnostics.
func DecodeHex(value, label string) ([]byte, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value for %s: %w", label, err)
	}
	return raw, nil
}

// PrivateKeyFromHex parses a hex-encoded Ed25519 private key. Both the
// 32-byte seed form and the 64-byte expanded form are accepted.
func PrivateKeyFromHex(value, label string) (ed25519.PrivateKey, error) {
	raw, err := DecodeHex(value, label)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("invalid Ed25519 private key length for %s: %d", label, len(raw))
	}
}

// PublicKeyFromHex parses a hex-encoded Ed25519 public key.
func PublicKeyFromHex(value, label string) (ed25519.PublicKey, error) {
	raw, err := DecodeHex(value, label)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid Ed25519 public key length for %s: %d", label, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
