// Package q3pcrypto implements the two crypto primitives Q3P is allowed to
// use — a universal-hash message authenticator and an XOR one-time-pad
// cipher — both keyed directly from drawn key-store material. No new
// cryptographic primitive is designed here: Poly1305 already is a
// polynomial-evaluation universal hash, which is exactly what the
// authentication scheme calls for.
package q3pcrypto

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/poly1305"
	"golang.org/x/crypto/sha3"
)

// TagSize is the output size of the authentication scheme in bytes.
const TagSize = poly1305.TagSize

// deriveSubkey expands arbitrary-length drawn key material into the
// fixed 32-byte key Poly1305 requires, via SHAKE256 (already a teacher
// dependency through golang.org/x/crypto/sha3).
func deriveSubkey(material []byte) [32]byte {
	var out [32]byte
	h := sha3.NewShake256()
	h.Write(material)
	h.Read(out[:])
	return out
}

// AuthContext computes and verifies Q3P authentication tags. A context is
// either reusable (the same drawn key material backs every tag) or
// ephemeral (SetKey is called with fresh material before each message);
// the caller decides which. internal/q3pchannel uses its contexts
// ephemerally.
type AuthContext struct {
	key [32]byte
}

// NewAuthContext builds a context keyed from the given drawn material.
func NewAuthContext(keyMaterial []byte) *AuthContext {
	return &AuthContext{key: deriveSubkey(keyMaterial)}
}

// SetKey rekeys the context, e.g. for ephemeral per-message operation.
func (a *AuthContext) SetKey(keyMaterial []byte) {
	a.key = deriveSubkey(keyMaterial)
}

// Tag computes the authentication tag over msg.
func (a *AuthContext) Tag(msg []byte) []byte {
	var out [16]byte
	poly1305.Sum(&out, msg, &a.key)
	return out[:]
}

// Verify reports whether tag is the correct authentication tag for msg,
// in constant time. A mismatch here is always treated by the caller as a
// possible attack, never silently ignored.
func (a *AuthContext) Verify(msg, tag []byte) (bool, error) {
	if len(tag) != TagSize {
		return false, fmt.Errorf("q3pcrypto: tag length %d != %d", len(tag), TagSize)
	}
	want := a.Tag(msg)
	return subtle.ConstantTimeCompare(want, tag) == 1, nil
}
