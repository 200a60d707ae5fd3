// Package q3ptransport carries Q3P wire messages over a connected TCP
// socket: Peer URI parsing, length-prefixed framing around
// internal/q3pmsg's fixed header, and the listen/connect roles a link
// end plays.
package q3ptransport

import "errors"

var (
	// ErrSocket marks an inappropriate or unusable socket/listener.
	ErrSocket = errors.New("q3ptransport: inappropriate socket")

	// ErrConnectionLost marks a read or write that failed because the
	// peer went away mid-frame.
	ErrConnectionLost = errors.New("q3ptransport: connection lost")

	// ErrPacketSize marks a declared frame length outside [HeaderSize,
	// PacketMaxSize].
	ErrPacketSize = errors.New("q3ptransport: packet too large")

	// ErrPeerURI marks a Peer URI that doesn't parse as tcp://host:port.
	ErrPeerURI = errors.New("q3ptransport: malformed peer URI")
)
