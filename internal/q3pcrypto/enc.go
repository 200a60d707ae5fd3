package q3pcrypto

import "fmt"

// EncContext implements Q3P's only encryption scheme: XOR against drawn
// one-time-pad key bytes. It never reuses a byte of key material across
// two encrypt/decrypt calls — callers are responsible for drawing a fresh
// run of key bytes (at least len(plaintext) long) from the relevant
// buffer before every call.
type EncContext struct{}

// NewEncContext returns a ready-to-use XOR one-time-pad context. It is
// stateless: all key material is supplied per call.
func NewEncContext() *EncContext { return &EncContext{} }

// Encrypt XORs data against pad, returning a new slice the same length as
// data. pad must be at least as long as data.
func (e *EncContext) Encrypt(data, pad []byte) ([]byte, error) {
	return e.xor(data, pad)
}

// Decrypt is identical to Encrypt — XOR is its own inverse.
func (e *EncContext) Decrypt(data, pad []byte) ([]byte, error) {
	return e.xor(data, pad)
}

func (e *EncContext) xor(data, pad []byte) ([]byte, error) {
	if len(pad) < len(data) {
		return nil, fmt.Errorf("q3pcrypto: insufficient one-time-pad material: need %d, have %d", len(data), len(pad))
	}
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ pad[i]
	}
	return out, nil
}
