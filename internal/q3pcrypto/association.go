package q3pcrypto

import "fmt"

// Association bundles the four directional crypto contexts a Q3P link
// needs: authentication and encryption, each incoming and outgoing.
type Association struct {
	AuthIn  *AuthContext
	AuthOut *AuthContext
	EncIn   *EncContext
	EncOut  *EncContext

	// AuthReusable records whether the auth contexts keep their key across
	// calls (reusable) rather than being rekeyed per message (ephemeral).
	// SeedFromInitialSecret sets it; nothing in this module reads it.
	// internal/q3pchannel's Channel calls SetKey with freshly drawn
	// material before every tag and verification, whatever its value.
	AuthReusable bool
}

// NewAssociation builds an empty association; Seed or direct field
// assignment populates its contexts.
func NewAssociation() *Association {
	return &Association{EncIn: NewEncContext(), EncOut: NewEncContext()}
}

// InitKeyBytes is the number of key-material bytes SeedFromInitialSecret
// slices out for each of the four contexts, in the fixed order
// auth-in, auth-out, enc-in, enc-out. EncContext is a stateless XOR pad
// context, so its "init key" is simply discarded material reserved for
// parity with the auth contexts' derivation and for a future keyed
// encryption scheme swap-in.
const InitKeyBytes = 32

// SeedFromInitialSecret derives all four contexts from a shared initial
// secret exchanged out of band, per the handshake's fixed slicing order.
// On the slave side, incoming and outgoing slices are swapped so each
// peer's "in" matches the other's "out".
//
// It returns the remaining (unsliced) bytes of secret, which the caller
// splits in half and seeds into the Incoming and Outgoing buffers
// (swapped on the slave) so the very first authentication tag is already
// backed by shared material.
func SeedFromInitialSecret(secret []byte, isSlave bool) (*Association, []byte, error) {
	need := InitKeyBytes * 4
	if len(secret) < need {
		return nil, nil, fmt.Errorf("q3pcrypto: initial secret too short: need %d, have %d", need, len(secret))
	}

	slice := func(i int) []byte { return secret[i*InitKeyBytes : (i+1)*InitKeyBytes] }
	authIn, authOut := slice(0), slice(1)
	if isSlave {
		authIn, authOut = authOut, authIn
	}
	// enc-in/enc-out (slice(2), slice(3)) are consumed from the secret to
	// keep both sides' byte offsets aligned, even though the stateless
	// XOR one-time-pad context draws its real key material fresh from
	// the buffers per message rather than from the initial secret.

	a := &Association{
		AuthIn:       NewAuthContext(authIn),
		AuthOut:      NewAuthContext(authOut),
		EncIn:        NewEncContext(),
		EncOut:       NewEncContext(),
		AuthReusable: true,
	}

	return a, secret[need:], nil
}
