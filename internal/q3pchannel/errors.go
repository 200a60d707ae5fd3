package q3pchannel

import "errors"

// Sentinel errors a Channel's Encode/Decode pipeline returns, wrapped with
// context via %w. Callers branch on these with errors.Is.
var (
	// ErrMessage marks a structurally malformed message (bad length, too
	// short for its declared header/tag).
	ErrMessage = errors.New("q3pchannel: malformed message")

	// ErrKeys marks insufficient key material in the relevant buffer to
	// complete encryption or authentication.
	ErrKeys = errors.New("q3pchannel: insufficient key material")

	// ErrAuth marks a failed authentication check. The spec's own words
	// apply: this might be an attack, and is never silently accepted.
	ErrAuth = errors.New("q3pchannel: authentication failed")

	// ErrContext marks an internal crypto operation failure unrelated to
	// the message or key material themselves.
	ErrContext = errors.New("q3pchannel: crypto context failure")
)
