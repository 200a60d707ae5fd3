package q3pengine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// BufferSpec describes one Key-DB window as exchanged during the
// handshake: its ID range and the fixed octet length of every slot in it.
type BufferSpec struct {
	MinID   uint64
	MaxID   uint64
	Quantum uint64
}

// HandshakeMessage is the HANDSHAKE protocol's payload: role preference,
// tie-break nonce, the four crypto scheme names in use, and the four
// Key-DB window specs (common store, incoming, outgoing, application).
type HandshakeMessage struct {
	Master bool
	Slave  bool
	Nonce  uint32

	AuthIncoming string
	AuthOutgoing string
	EncIncoming  string
	EncOutgoing  string

	CommonStore BufferSpec
	Incoming    BufferSpec
	Outgoing    BufferSpec
	Application BufferSpec
}

func putString(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("q3pengine: truncated string length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", fmt.Errorf("q3pengine: truncated string body: %w", err)
	}
	return string(s), nil
}

func putBufferSpec(buf *bytes.Buffer, b BufferSpec) {
	var u [8]byte
	binary.BigEndian.PutUint64(u[:], b.MinID)
	buf.Write(u[:])
	binary.BigEndian.PutUint64(u[:], b.MaxID)
	buf.Write(u[:])
	binary.BigEndian.PutUint64(u[:], b.Quantum)
	buf.Write(u[:])
}

func getBufferSpec(r *bytes.Reader) (BufferSpec, error) {
	var u [8]byte
	var b BufferSpec
	if _, err := io.ReadFull(r, u[:]); err != nil {
		return b, fmt.Errorf("q3pengine: truncated buffer spec: %w", err)
	}
	b.MinID = binary.BigEndian.Uint64(u[:])
	if _, err := io.ReadFull(r, u[:]); err != nil {
		return b, fmt.Errorf("q3pengine: truncated buffer spec: %w", err)
	}
	b.MaxID = binary.BigEndian.Uint64(u[:])
	if _, err := io.ReadFull(r, u[:]); err != nil {
		return b, fmt.Errorf("q3pengine: truncated buffer spec: %w", err)
	}
	b.Quantum = binary.BigEndian.Uint64(u[:])
	return b, nil
}

// Marshal encodes the handshake payload in the fixed field order: role
// booleans, nonce, four scheme names, four buffer specs.
func (h HandshakeMessage) Marshal() []byte {
	var buf bytes.Buffer
	if h.Master {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if h.Slave {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var nonceBuf [4]byte
	binary.BigEndian.PutUint32(nonceBuf[:], h.Nonce)
	buf.Write(nonceBuf[:])

	putString(&buf, h.AuthIncoming)
	putString(&buf, h.AuthOutgoing)
	putString(&buf, h.EncIncoming)
	putString(&buf, h.EncOutgoing)

	putBufferSpec(&buf, h.CommonStore)
	putBufferSpec(&buf, h.Incoming)
	putBufferSpec(&buf, h.Outgoing)
	putBufferSpec(&buf, h.Application)

	return buf.Bytes()
}

// UnmarshalHandshake parses a HANDSHAKE payload produced by Marshal.
func UnmarshalHandshake(b []byte) (*HandshakeMessage, error) {
	r := bytes.NewReader(b)
	var flags [2]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated handshake flags: %v", ErrAnswer, err)
	}
	var nonceBuf [4]byte
	if _, err := io.ReadFull(r, nonceBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated handshake nonce: %v", ErrAnswer, err)
	}

	h := &HandshakeMessage{
		Master: flags[0] != 0,
		Slave:  flags[1] != 0,
		Nonce:  binary.BigEndian.Uint32(nonceBuf[:]),
	}

	var err error
	if h.AuthIncoming, err = getString(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswer, err)
	}
	if h.AuthOutgoing, err = getString(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswer, err)
	}
	if h.EncIncoming, err = getString(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswer, err)
	}
	if h.EncOutgoing, err = getString(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswer, err)
	}

	if h.CommonStore, err = getBufferSpec(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswer, err)
	}
	if h.Incoming, err = getBufferSpec(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswer, err)
	}
	if h.Outgoing, err = getBufferSpec(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswer, err)
	}
	if h.Application, err = getBufferSpec(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswer, err)
	}

	return h, nil
}

// negotiate resolves the local role against a peer's HANDSHAKE payload
// and cross-checks the buffer specs the spec requires to agree. It does
// not mutate the engine; callers apply the result.
func negotiate(local, peer *HandshakeMessage) (isMaster bool, err error) {
	isMaster, err = chooseRole(local.Master, local.Slave, peer.Master, peer.Slave, local.Nonce, peer.Nonce)
	if err != nil {
		return false, err
	}

	if local.AuthOutgoing != peer.AuthIncoming || local.AuthIncoming != peer.AuthOutgoing {
		return false, fmt.Errorf("%w: authentication scheme mismatch", ErrConfig)
	}
	if local.EncOutgoing != peer.EncIncoming || local.EncIncoming != peer.EncOutgoing {
		return false, fmt.Errorf("%w: encryption scheme mismatch", ErrConfig)
	}

	sameWindow := func(a, b BufferSpec) bool {
		return a.MinID == b.MinID && a.MaxID == b.MaxID && a.Quantum == b.Quantum
	}
	if !sameWindow(local.Incoming, peer.Outgoing) || !sameWindow(local.Outgoing, peer.Incoming) {
		return false, fmt.Errorf("%w: buffer window mismatch between peers", ErrConfig)
	}
	if !sameWindow(local.Incoming, local.Outgoing) || !sameWindow(local.Incoming, local.Application) {
		return false, fmt.Errorf("%w: incoming/outgoing/application windows must match", ErrConfig)
	}
	if local.CommonStore.Quantum == 0 || local.Incoming.Quantum == 0 || local.CommonStore.Quantum%local.Incoming.Quantum != 0 {
		return false, fmt.Errorf("%w: common store quantum must be a multiple of the buffer quantum", ErrConfig)
	}
	if peer.CommonStore.Quantum != local.CommonStore.Quantum {
		return false, fmt.Errorf("%w: common store quantum mismatch between peers", ErrConfig)
	}

	return isMaster, nil
}
