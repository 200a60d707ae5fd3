package q3pmsg

import "fmt"

// Protocol IDs, named per the AIT Q3P protocol family this spec distills.
// LoadAck/StoreAck get their own IDs rather than reusing Load/Store: the
// two directions of a round carry differently-shaped payloads
// (LoadPayload vs LoadAckPayload) and a transport dispatch loop needs to
// tell them apart before it has decoded anything.
const (
	ProtocolHandshake   uint8 = 1
	ProtocolLoad        uint8 = 2
	ProtocolLoadRequest uint8 = 3
	ProtocolStore       uint8 = 4
	ProtocolData        uint8 = 5
	ProtocolLoadAck     uint8 = 6
	ProtocolStoreAck    uint8 = 7
)

// Message is a decoded Q3P message: header, payload, and — if Header.Authentic
// — a trailing authentication tag of whatever length the auth scheme uses.
type Message struct {
	Header  Header
	Payload []byte
	Tag     []byte
}

// New builds a Message with ChannelID/ProtocolID/MessageID set and the
// encrypted/authentic/zipped flags cleared; callers fill those in as the
// send pipeline (internal/q3pchannel) processes the payload.
func New(channelID uint16, protocolID uint8, messageID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			MessageID:  messageID,
			ChannelID:  channelID,
			ProtocolID: protocolID,
		},
		Payload: payload,
	}
}

// Marshal serializes the message to its wire form, computing Header.Length
// from the current payload and tag.
func (m *Message) Marshal() []byte {
	m.Header.Length = uint32(HeaderSize + len(m.Payload) + len(m.Tag))
	out := make([]byte, 0, m.Header.Length)
	out = append(out, m.Header.Encode()...)
	out = append(out, m.Payload...)
	out = append(out, m.Tag...)
	return out
}

// Unmarshal parses a complete wire-form message. tagSize is the output
// size of the authentication scheme in use — 0 if the message isn't
// flagged authentic or the scheme's tag length is otherwise known to be
// zero.
func Unmarshal(b []byte, tagSize int) (*Message, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if int(h.Length) != len(b) {
		return nil, fmt.Errorf("q3pmsg: length field %d does not match received %d bytes", h.Length, len(b))
	}
	if !h.Authentic {
		tagSize = 0
	}
	payloadEnd := len(b) - tagSize
	if payloadEnd < HeaderSize {
		return nil, fmt.Errorf("q3pmsg: message too short for declared tag size %d", tagSize)
	}
	m := &Message{Header: *h}
	m.Payload = append([]byte(nil), b[HeaderSize:payloadEnd]...)
	if tagSize > 0 {
		m.Tag = append([]byte(nil), b[payloadEnd:]...)
	}
	return m, nil
}
