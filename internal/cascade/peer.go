package cascade

import "context"

// Peer is the classical authenticated channel a ParityChecker and Driver
// exchange parity bits and the permutation seed over. It deliberately
// knows nothing about Q3P, sockets, or framing. This module has no
// production implementation of it; tests use the in-memory
// internal/testsupport.PeerPipe.
type Peer interface {
	// Send transmits b as one logical round-trip unit.
	Send(ctx context.Context, b []byte) error
	// Recv blocks for the peer's next unit.
	Recv(ctx context.Context) ([]byte, error)
}
