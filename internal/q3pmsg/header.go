// Package q3pmsg implements the Q3P wire message: a fixed binary header
// followed by payload and an optional trailing authentication tag.
package q3pmsg

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed header length in bytes.
const HeaderSize = 20

// Version is the only Q3P protocol version this module speaks.
const Version = 2

// Flag bits within the header's flags-and-version byte (offset 11).
const (
	FlagEncrypted byte = 1 << 0
	FlagAuthentic byte = 1 << 1
	FlagZipped    byte = 1 << 2
)

const versionShift = 5
const versionMask = 0x07

// Header is the fixed 20-byte Q3P message header, laid out exactly as
// spec'd (network byte order, i.e. big-endian):
//
//	off  len  field
//	0    4    total length (including tag)
//	4    4    message ID
//	8    2    channel ID
//	10   1    protocol ID
//	11   1    flags: bits 0-2 encrypted/authentic/zipped; bits 5-7 version
//	12   4    encryption-key ID
//	16   4    authentication-key ID
type Header struct {
	Length           uint32
	MessageID        uint32
	ChannelID        uint16
	ProtocolID       uint8
	Encrypted        bool
	Authentic        bool
	Zipped           bool
	EncryptionKeyID  uint32
	AuthenticationKeyID uint32
}

func (h *Header) flagsByte() byte {
	var f byte
	if h.Encrypted {
		f |= FlagEncrypted
	}
	if h.Authentic {
		f |= FlagAuthentic
	}
	if h.Zipped {
		f |= FlagZipped
	}
	f |= (Version & versionMask) << versionShift
	return f
}

// Encode writes the header into a fresh HeaderSize-byte slice.
func (h *Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(b[0:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.MessageID)
	binary.BigEndian.PutUint16(b[8:10], h.ChannelID)
	b[10] = h.ProtocolID
	b[11] = h.flagsByte()
	binary.BigEndian.PutUint32(b[12:16], h.EncryptionKeyID)
	binary.BigEndian.PutUint32(b[16:20], h.AuthenticationKeyID)
	return b
}

// DecodeHeader parses a HeaderSize-byte slice into a Header.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("q3pmsg: header too short: %d < %d", len(b), HeaderSize)
	}
	flags := b[11]
	version := (flags >> versionShift) & versionMask
	if version != Version {
		return nil, fmt.Errorf("q3pmsg: unsupported protocol version %d", version)
	}
	h := &Header{
		Length:              binary.BigEndian.Uint32(b[0:4]),
		MessageID:           binary.BigEndian.Uint32(b[4:8]),
		ChannelID:           binary.BigEndian.Uint16(b[8:10]),
		ProtocolID:          b[10],
		Encrypted:           flags&FlagEncrypted != 0,
		Authentic:           flags&FlagAuthentic != 0,
		Zipped:              flags&FlagZipped != 0,
		EncryptionKeyID:     binary.BigEndian.Uint32(b[12:16]),
		AuthenticationKeyID: binary.BigEndian.Uint32(b[16:20]),
	}
	if h.Length < HeaderSize {
		return nil, fmt.Errorf("q3pmsg: malformed message: total length %d below header size %d", h.Length, HeaderSize)
	}
	return h, nil
}
