package q3pengine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHandshake() HandshakeMessage {
	return HandshakeMessage{
		Master:       true,
		Slave:        false,
		Nonce:        42,
		AuthIncoming: "poly1305-in",
		AuthOutgoing: "poly1305-out",
		EncIncoming:  "chacha20-in",
		EncOutgoing:  "chacha20-out",
		CommonStore:  BufferSpec{MinID: 0, MaxID: 1000, Quantum: 128},
		Incoming:     BufferSpec{MinID: 0, MaxID: 500, Quantum: 32},
		Outgoing:     BufferSpec{MinID: 0, MaxID: 500, Quantum: 32},
		Application:  BufferSpec{MinID: 0, MaxID: 500, Quantum: 32},
	}
}

func TestHandshakeMarshalRoundTrip(t *testing.T) {
	h := sampleHandshake()
	got, err := UnmarshalHandshake(h.Marshal())
	require.NoError(t, err)
	assert.Equal(t, h, *got)
}

func TestUnmarshalHandshakeTruncated(t *testing.T) {
	h := sampleHandshake()
	full := h.Marshal()
	_, err := UnmarshalHandshake(full[:len(full)-3])
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnswer))
}

// mirrorPeer builds a peer handshake that is schematically consistent
// with local: opposite role preference, matching schemes and buffer
// windows mirrored (local's Incoming is peer's Outgoing and vice versa).
func mirrorPeer(local HandshakeMessage) HandshakeMessage {
	return HandshakeMessage{
		Master:       local.Slave,
		Slave:        local.Master,
		Nonce:        local.Nonce + 1,
		AuthIncoming: local.AuthOutgoing,
		AuthOutgoing: local.AuthIncoming,
		EncIncoming:  local.EncOutgoing,
		EncOutgoing:  local.EncIncoming,
		CommonStore:  local.CommonStore,
		Incoming:     local.Outgoing,
		Outgoing:     local.Incoming,
		Application:  local.Application,
	}
}

func TestNegotiateSuccess(t *testing.T) {
	local := sampleHandshake()
	peer := mirrorPeer(local)

	isMaster, err := negotiate(&local, &peer)
	require.NoError(t, err)
	assert.True(t, isMaster)
}

func TestNegotiateAuthSchemeMismatch(t *testing.T) {
	local := sampleHandshake()
	peer := mirrorPeer(local)
	peer.AuthIncoming = "hmac-sha256"

	_, err := negotiate(&local, &peer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestNegotiateEncSchemeMismatch(t *testing.T) {
	local := sampleHandshake()
	peer := mirrorPeer(local)
	peer.EncOutgoing = "aes256-gcm"

	_, err := negotiate(&local, &peer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestNegotiateBufferWindowMismatch(t *testing.T) {
	local := sampleHandshake()
	peer := mirrorPeer(local)
	peer.Incoming.MaxID = 999

	_, err := negotiate(&local, &peer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestNegotiateLocalBuffersMustMatchEachOther(t *testing.T) {
	local := sampleHandshake()
	local.Application.Quantum = 64
	peer := mirrorPeer(sampleHandshake())

	_, err := negotiate(&local, &peer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestNegotiateCommonStoreQuantumNotMultiple(t *testing.T) {
	local := sampleHandshake()
	local.CommonStore.Quantum = 100 // not a multiple of the 32-byte buffer quantum
	peer := mirrorPeer(local)

	_, err := negotiate(&local, &peer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestNegotiateCommonStoreQuantumMismatchBetweenPeers(t *testing.T) {
	local := sampleHandshake()
	peer := mirrorPeer(local)
	peer.CommonStore.Quantum = 256

	_, err := negotiate(&local, &peer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestNegotiateNonceCollision(t *testing.T) {
	local := HandshakeMessage{
		Nonce:       7,
		CommonStore: BufferSpec{Quantum: 128},
		Incoming:    BufferSpec{Quantum: 32},
		Outgoing:    BufferSpec{Quantum: 32},
		Application: BufferSpec{Quantum: 32},
	}
	peer := local // neither side declared master/slave, and nonces collide

	_, err := negotiate(&local, &peer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}
