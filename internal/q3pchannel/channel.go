// Package q3pchannel implements the Q3P channel: the send/receive
// pipeline that turns an application payload into an authenticated,
// encrypted, optionally compressed wire message and back, drawing all
// key material from a pair of Key-DB buffers.
package q3pchannel

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/aitqkd/q3pcore/internal/keydb"
	"github.com/aitqkd/q3pcore/internal/q3pcrypto"
	"github.com/aitqkd/q3pcore/internal/q3pmsg"
)

// Channel owns one Q3P channel's crypto association and buffers, and
// assigns monotonically increasing outgoing message IDs.
type Channel struct {
	ID    uint16
	Assoc *q3pcrypto.Association

	Outgoing keydb.KeyDB // keys for outgoing encryption + authentication
	Incoming keydb.KeyDB // keys for incoming decryption + verification

	// CompressThreshold is the payload size, in bytes, at or above which
	// Encode compresses regardless of the encrypted flag. Encryption
	// always triggers compression first too, since a compressible
	// ciphertext defeats the point of compressing after the fact.
	CompressThreshold int

	Log zerolog.Logger

	nextMessageID uint32
}

// NewChannel builds a Channel over the given association and buffers.
// compressThreshold is the payload size in bytes at which Encode starts
// compressing even when encryption isn't requested.
func NewChannel(id uint16, assoc *q3pcrypto.Association, outgoing, incoming keydb.KeyDB, compressThreshold int, log zerolog.Logger) *Channel {
	return &Channel{
		ID:                id,
		Assoc:             assoc,
		Outgoing:          outgoing,
		Incoming:          incoming,
		CompressThreshold: compressThreshold,
		Log:               log,
	}
}

// authKeyBytes is the amount of key material an authentication tag
// consumes per message: Poly1305's single 32-byte key, derived fresh per
// message since Q3P auth keys are ephemeral in steady state.
const authKeyBytes = 32

// Encode runs the send pipeline: compress, encrypt, authenticate. The
// returned Message is ready for Marshal and transport.
func (c *Channel) Encode(protocolID uint8, payload []byte, encrypted, authentic bool) (*q3pmsg.Message, error) {
	m := q3pmsg.New(c.ID, protocolID, c.nextMessageID, payload)
	c.nextMessageID++

	if len(payload) >= c.CompressThreshold || encrypted {
		compressed, err := deflate(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: compress: %v", ErrContext, err)
		}
		m.Payload = compressed
		m.Header.Zipped = true
	}

	if encrypted {
		if err := c.encrypt(m); err != nil {
			return nil, err
		}
	}

	if authentic {
		if err := c.authenticate(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Decode runs the receive pipeline: verify, decrypt, decompress. raw must
// be a complete wire-form message (as produced by Message.Marshal).
func (c *Channel) Decode(raw []byte) (*q3pmsg.Message, error) {
	h, err := q3pmsg.DecodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessage, err)
	}

	tagSize := 0
	if h.Authentic {
		tagSize = q3pcrypto.TagSize
	}
	m, err := q3pmsg.Unmarshal(raw, tagSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessage, err)
	}

	if m.Header.Authentic {
		if err := c.verify(m); err != nil {
			return nil, err
		}
	}

	if m.Header.Encrypted {
		if err := c.decrypt(m); err != nil {
			return nil, err
		}
	}

	if m.Header.Zipped {
		plain, err := inflate(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrContext, err)
		}
		m.Payload = plain
		m.Header.Zipped = false
	}

	return m, nil
}

// drawContinuous reserves a contiguous run of keys in db covering at
// least n bytes and returns their concatenated key material. On any
// failure the reservation is rolled back before returning.
func drawContinuous(db keydb.KeyDB, n uint64) ([]uint64, []byte, error) {
	ids, err := db.FindContinuous(n, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeys, err)
	}

	material := make([]byte, 0, uint64(len(ids))*db.Quantum())
	for _, id := range ids {
		k, err := db.Get(id)
		if err != nil || k == nil {
			db.SetKeyCount(ids, 0)
			return nil, nil, fmt.Errorf("%w: key id %d unavailable", ErrKeys, id)
		}
		material = append(material, k.Bytes()...)
	}
	if uint64(len(material)) < n {
		db.SetKeyCount(ids, 0)
		return nil, nil, fmt.Errorf("%w: drew %d bytes, needed %d", ErrKeys, len(material), n)
	}
	return ids, material, nil
}

func commit(db keydb.KeyDB, ids []uint64) {
	for _, id := range ids {
		db.Del(id)
	}
}

func (c *Channel) encrypt(m *q3pmsg.Message) error {
	ids, pad, err := drawContinuous(c.Outgoing, uint64(len(m.Payload)))
	if err != nil {
		return err
	}

	cipher, err := c.Assoc.EncOut.Encrypt(m.Payload, pad)
	if err != nil {
		c.Outgoing.SetKeyCount(ids, 0)
		return fmt.Errorf("%w: %v", ErrContext, err)
	}

	m.Payload = cipher
	m.Header.Encrypted = true
	m.Header.EncryptionKeyID = uint32(ids[0])
	commit(c.Outgoing, ids)
	return nil
}

func (c *Channel) decrypt(m *q3pmsg.Message) error {
	nKeys := (uint64(len(m.Payload)) + c.Incoming.Quantum() - 1) / c.Incoming.Quantum()
	ids := make([]uint64, nKeys)
	material := make([]byte, 0, nKeys*c.Incoming.Quantum())
	for i := uint64(0); i < nKeys; i++ {
		id := uint64(m.Header.EncryptionKeyID) + i
		if !c.Incoming.Valid(id) {
			return fmt.Errorf("%w: encryption key id %d not valid", ErrKeys, id)
		}
		k, err := c.Incoming.Get(id)
		if err != nil || k == nil {
			return fmt.Errorf("%w: encryption key id %d unavailable", ErrKeys, id)
		}
		ids[i] = id
		material = append(material, k.Bytes()...)
	}

	plain, err := c.Assoc.EncIn.Decrypt(m.Payload, material)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContext, err)
	}

	m.Payload = plain
	m.Header.Encrypted = false
	for _, id := range ids {
		c.Incoming.Del(id)
	}
	return nil
}

func (c *Channel) authenticate(m *q3pmsg.Message) error {
	ids, key, err := drawContinuous(c.Outgoing, authKeyBytes)
	if err != nil {
		return err
	}

	m.Header.Authentic = true
	m.Header.AuthenticationKeyID = uint32(ids[0])
	// The tag covers the header as it appears on the wire, where Length
	// includes the trailing tag — set it before signing so the verifier,
	// which sees that same tag-inclusive Length, MACs identical bytes.
	m.Header.Length = uint32(q3pmsg.HeaderSize + len(m.Payload) + q3pcrypto.TagSize)
	signed := append(m.Header.Encode(), m.Payload...)
	c.Assoc.AuthOut.SetKey(key)
	m.Tag = c.Assoc.AuthOut.Tag(signed)
	commit(c.Outgoing, ids)
	return nil
}

func (c *Channel) verify(m *q3pmsg.Message) error {
	nKeys := (uint64(authKeyBytes) + c.Incoming.Quantum() - 1) / c.Incoming.Quantum()
	ids := make([]uint64, nKeys)
	material := make([]byte, 0, nKeys*c.Incoming.Quantum())
	for i := uint64(0); i < nKeys; i++ {
		id := uint64(m.Header.AuthenticationKeyID) + i
		if !c.Incoming.Valid(id) {
			return fmt.Errorf("%w: authentication key id %d not valid", ErrKeys, id)
		}
		k, err := c.Incoming.Get(id)
		if err != nil || k == nil {
			return fmt.Errorf("%w: authentication key id %d unavailable", ErrKeys, id)
		}
		ids[i] = id
		material = append(material, k.Bytes()...)
	}

	c.Assoc.AuthIn.SetKey(material)
	signed := m.Marshal()
	signed = signed[:len(signed)-len(m.Tag)]
	ok, err := c.Assoc.AuthIn.Verify(signed, m.Tag)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContext, err)
	}
	if !ok {
		c.Log.Warn().Uint16("channel", c.ID).Uint32("message_id", m.Header.MessageID).Msg("authentication tag mismatch — possible attack")
		return ErrAuth
	}

	for _, id := range ids {
		c.Incoming.Del(id)
	}
	return nil
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
