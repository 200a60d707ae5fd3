package q3pmsg

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := New(7, ProtocolData, 99, []byte("hello q3p"))
	m.Header.Encrypted = true
	m.Header.Authentic = true
	m.Header.EncryptionKeyID = 123
	m.Header.AuthenticationKeyID = 456
	m.Tag = []byte{1, 2, 3, 4}

	wire := m.Marshal()

	got, err := Unmarshal(wire, len(m.Tag))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Header.ChannelID != 7 || got.Header.ProtocolID != ProtocolData || got.Header.MessageID != 99 {
		t.Fatalf("header mismatch: %+v", got.Header)
	}
	if string(got.Payload) != "hello q3p" {
		t.Fatalf("payload mismatch: %q", got.Payload)
	}
	if len(got.Tag) != 4 {
		t.Fatalf("tag length mismatch: %d", len(got.Tag))
	}
	if !got.Header.Encrypted || !got.Header.Authentic {
		t.Fatalf("expected encrypted+authentic flags preserved")
	}
}

func TestDecodeHeaderRejectsShort(t *testing.T) {
	if _, err := DecodeHeader([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short header")
	}
}

func TestDecodeHeaderRejectsBadVersion(t *testing.T) {
	h := &Header{}
	b := h.Encode()
	b[11] = 0x00 // version bits zero, not Version (2)
	if _, err := DecodeHeader(b); err == nil {
		t.Fatal("expected error on bad version")
	}
}

func TestUnmarshalRejectsLengthMismatch(t *testing.T) {
	m := New(1, ProtocolHandshake, 1, []byte("x"))
	wire := m.Marshal()
	wire = append(wire, 0xff) // extra trailing byte not reflected in Length
	if _, err := Unmarshal(wire, 0); err == nil {
		t.Fatal("expected error on length mismatch")
	}
}
