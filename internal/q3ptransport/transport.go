package q3ptransport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aitqkd/q3pcore/internal/q3pmsg"
)

// PacketMaxSize bounds a single Q3P message, including the header and any
// trailing authentication tag. 16 MiB.
const PacketMaxSize = 16 * 1024 * 1024

// Transport carries framed Q3P messages over one connected TCP socket.
// Reads are only ever driven by one loop at a time (the handshake, then
// the link's read loop), so ReadFrame needs no locking; WriteFrame does,
// since the read loop's replies and the tick loop's LOAD/LOAD-REQUEST
// rounds can both send on the same connection.
type Transport struct {
	conn net.Conn
	mu   sync.Mutex
}

// NewTransport wraps an already-connected socket.
func NewTransport(conn net.Conn) *Transport {
	return &Transport{conn: conn}
}

// Dial opens a new connection to the given Peer URI.
func Dial(ctx context.Context, uri PeerURI) (*Transport, error) {
	addr, err := uri.DialAddress()
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrConnectionLost, addr, err)
	}
	return NewTransport(conn), nil
}

// WriteFrame sends a complete, already-encoded Q3P message (header,
// payload, and tag already concatenated by internal/q3pmsg).
func (t *Transport) WriteFrame(b []byte) error {
	if len(b) < q3pmsg.HeaderSize {
		return fmt.Errorf("%w: frame of %d bytes is shorter than the header", ErrPacketSize, len(b))
	}
	if len(b) > PacketMaxSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrPacketSize, len(b), PacketMaxSize)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.conn.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// ReadFrame blocks for the next complete Q3P message: it reads the fixed
// header first to learn the declared total length, then reads exactly
// that many remaining bytes. The returned slice is the full wire frame,
// ready for q3pmsg.Unmarshal.
func (t *Transport) ReadFrame() ([]byte, error) {
	header := make([]byte, q3pmsg.HeaderSize)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrConnectionLost, err)
	}
	h, err := q3pmsg.DecodeHeader(header)
	if err != nil {
		return nil, err
	}
	if uint64(h.Length) > PacketMaxSize {
		return nil, fmt.Errorf("%w: declared length %d exceeds %d", ErrPacketSize, h.Length, PacketMaxSize)
	}
	frame := make([]byte, h.Length)
	copy(frame, header)
	if _, err := io.ReadFull(t.conn, frame[q3pmsg.HeaderSize:]); err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrConnectionLost, err)
	}
	return frame, nil
}

// SetDeadline arms a read/write deadline on the underlying socket.
// Nothing in this module calls it; the handshake read waits without a
// deadline.
func (t *Transport) SetDeadline(d time.Time) error {
	return t.conn.SetDeadline(d)
}

// RemoteAddr reports the peer's address, for logging.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Close shuts down the socket. Safe to call more than once.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Listener accepts incoming Q3P connections on one bound address.
type Listener struct {
	ln net.Listener
}

// Listen binds the given Peer URI, expanding a wildcard host to the
// local default-route IPv4.
func Listen(uri PeerURI) (*Listener, error) {
	addr, err := uri.ListenAddress()
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listening on %s: %v", ErrSocket, addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next inbound connection and wraps it as a
// Transport.
func (l *Listener) Accept() (*Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: accepting: %v", ErrConnectionLost, err)
	}
	return NewTransport(conn), nil
}

// Addr reports the bound address, for logging and for resolving a "*"
// listen URI down to its concrete host:port.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
