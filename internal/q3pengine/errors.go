package q3pengine

import "errors"

// Error kinds the engine surfaces, beyond the channel-level
// Message/Keys/Auth/Context taxonomy in internal/q3pchannel.
var (
	// ErrEngine marks an operation attempted with no engine wired.
	ErrEngine = errors.New("q3pengine: no engine")

	// ErrTransport marks a socket error, including a lost connection.
	ErrTransport = errors.New("q3pengine: transport error")

	// ErrTimeout marks a response that did not arrive within deadline.
	ErrTimeout = errors.New("q3pengine: timeout")

	// ErrAnswer marks a malformed or unexpected peer payload.
	ErrAnswer = errors.New("q3pengine: unexpected answer")

	// ErrConfig marks a handshake parameter mismatch between peers.
	ErrConfig = errors.New("q3pengine: config mismatch")

	// ErrRole marks a message inappropriate for the local master/slave role.
	ErrRole = errors.New("q3pengine: wrong role for this message")

	// ErrPacketSize marks a frame exceeding PacketMaxSize.
	ErrPacketSize = errors.New("q3pengine: packet too large")
)
